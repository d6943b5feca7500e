// Package logging assembles the structured slog loggers used across diskwatch.
//
// It owns console/JSON handler construction, level and output plumbing, and
// small typed attribute helpers so components emit records with a consistent
// shape. It also provides a no-op logger for tests and wiring code that cannot
// fail.
//
// Prefer these constructors over hand-rolled slog setup.
package logging
