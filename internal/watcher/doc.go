// Package watcher follows live filesystem activity on mounted volumes and
// feeds it into the catalog as created, modified, and deleted events.
package watcher
