// Package jobs manages the lifecycle of scan and watch jobs recorded in the
// catalog. It enforces single-writer transitions, forwards worker heartbeats,
// and recovers jobs orphaned by a crashed daemon.
package jobs
