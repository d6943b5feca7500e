// Package identity resolves mounted directories to stable volume
// identifiers. It probes the mount table and block device metadata and
// composes a composite volume id that survives remounts and device node
// renumbering. Resolution degrades instead of failing: when probes are
// unavailable the id falls back through device path to the directory itself.
package identity
