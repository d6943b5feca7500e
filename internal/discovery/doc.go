// Package discovery finds mounted volumes beneath the configured roots and
// keeps scans and watches aligned with what is actually mounted. It polls the
// mount table on an interval and listens for block device uevents to react to
// plug and unplug without waiting for the next tick.
package discovery
