// Package catalog persists filesystem activity in a single SQLite database.
//
// Four tables back the catalog: an append-only events log, per-volume
// aggregate rows with identity and disk-usage snapshots, per-file latest-state
// rows, and job rows tracking scan and watch lifecycles. Every write is one
// transaction issued under a process-wide write gate; reads run concurrently
// and retry on transient contention with bounded backoff.
//
// The database, not process memory, is the source of truth: in-memory indices
// elsewhere in the system are reconstructed from this package on startup.
package catalog
