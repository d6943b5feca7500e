package testsupport

import (
	"path/filepath"
	"testing"

	"diskwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CatalogDir = filepath.Join(base, "catalog")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Discovery.Roots = []string{filepath.Join(base, "mnt")}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithScanWorkers overrides the scan worker cap on the test config.
func WithScanWorkers(n int) ConfigOption {
	return func(c *config.Config) {
		c.Scan.MaxWorkers = n
	}
}

// WithUsageThresholds overrides the usage refresh heuristic thresholds.
func WithUsageThresholds(events, intervalSecs int) ConfigOption {
	return func(c *config.Config) {
		c.Usage.RefreshEventThreshold = events
		c.Usage.RefreshIntervalSecs = intervalSecs
	}
}
