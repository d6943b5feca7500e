package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScan(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateUsage(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.CatalogDir) == "" {
		return errors.New("paths.catalog_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateScan() error {
	if c.Scan.MaxWorkers < 1 {
		return errors.New("scan.max_workers must be at least 1")
	}
	if c.Scan.ProgressTickFiles < 1 {
		return errors.New("scan.progress_tick_files must be at least 1")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if c.Discovery.PollInterval < 1 {
		return errors.New("discovery.poll_interval must be at least 1 second")
	}
	return nil
}

func (c *Config) validateUsage() error {
	if c.Usage.RefreshEventThreshold < 1 {
		return errors.New("usage.refresh_event_threshold must be at least 1")
	}
	if c.Usage.RefreshIntervalSecs < 1 {
		return errors.New("usage.refresh_interval must be at least 1 second")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
