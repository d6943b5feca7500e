package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/discovery"
	"diskwatch/internal/identity"
	"diskwatch/internal/logging"
)

func newRunLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}
	return logger, nil
}

// resolveTarget turns a command-line directory argument into an absolute,
// existing path with its volume identity resolved and persisted. An empty
// argument falls back to the first suggested mount.
func resolveTarget(ctx context.Context, cfg *config.Config, store *catalog.Store, logger *slog.Logger, arg string) (identity.Identity, error) {
	directory := arg
	if directory == "" {
		suggested := discovery.Suggest(cfg.Discovery.Roots)
		if len(suggested) == 0 {
			return identity.Identity{}, fmt.Errorf("no mounted volumes found beneath %v; pass a directory explicitly", cfg.Discovery.Roots)
		}
		directory = suggested[0]
	}

	abs, err := filepath.Abs(directory)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return identity.Identity{}, err
	}
	if !info.IsDir() {
		return identity.Identity{}, fmt.Errorf("%s is not a directory", abs)
	}

	resolver := identity.NewResolver(logger)
	id := resolver.Resolve(ctx, abs)
	if err := store.SaveVolumeIdentity(ctx, id.VolumeID, abs, identity.Snapshot(id)); err != nil {
		return identity.Identity{}, fmt.Errorf("save volume identity: %w", err)
	}
	return id, nil
}
