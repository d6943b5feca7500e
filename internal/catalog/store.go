package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"diskwatch/internal/catalog/migrations"
	"diskwatch/internal/config"
)

// Store manages catalog persistence backed by SQLite.
//
// All writes serialize through a single process-wide gate and run as one
// transaction each. Reads go straight to the connection and tolerate transient
// contention through the busy-retry policy. The gate is never held across
// blocking filesystem I/O; disk-usage probes happen outside it.
type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex

	ignore         IgnoreRules
	usageThreshold int64
	usageInterval  time.Duration

	// usageProbe is swapped out by tests; defaults to a statfs call.
	usageProbe func(directory string) (total, used, free int64, err error)
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the catalog database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if err := migrations.Up(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:             db,
		path:           dbPath,
		ignore:         IgnoreRules{Suffixes: cfg.Ignore.Suffixes, Names: cfg.Ignore.Names},
		usageThreshold: int64(cfg.Usage.RefreshEventThreshold),
		usageInterval:  time.Duration(cfg.Usage.RefreshIntervalSecs) * time.Second,
		usageProbe:     probeDiskUsage,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the catalog database location.
func (s *Store) Path() string {
	return s.path
}

// CheckSchema verifies the catalog schema matches the migrations compiled
// into the binary.
func (s *Store) CheckSchema() error {
	return migrations.Status(s.db)
}

// Ignore returns the transient-file rules the store was configured with.
func (s *Store) Ignore() IgnoreRules {
	return s.ignore
}

// SetUsageProbe overrides the disk-usage probe. Intended for tests.
func (s *Store) SetUsageProbe(probe func(directory string) (total, used, free int64, err error)) {
	s.usageProbe = probe
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) {
			return lastErr
		}
		if attempt == busyRetryAttempts-1 {
			return fmt.Errorf("%w: %s", ErrStoreBusy, lastErr)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// withWriteTx runs fn inside a transaction while holding the write gate.
// fn must not perform blocking I/O beyond the statements it issues.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableTimeValue(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func timeFromNull(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
