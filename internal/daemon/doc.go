// Package daemon runs the long-lived cataloging service: a single locked
// instance that discovers mounted volumes, scans them, and watches them for
// live changes.
package daemon
