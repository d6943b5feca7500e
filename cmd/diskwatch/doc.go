// Package main hosts the diskwatch CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the cataloging daemon, performs one-shot
// scans and watches, and renders the catalog's volumes, files, events, and
// jobs for inspection. It centralizes configuration resolution and store
// access so subcommands can focus on presentation.
package main
