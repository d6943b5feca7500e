package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/discovery"
	"diskwatch/internal/identity"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
	"diskwatch/internal/scanner"
	"diskwatch/internal/watcher"
)

// Daemon wires discovery, scanning, and watching together and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *catalog.Store
	tracker *jobs.Tracker
	loop    *discovery.Loop

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Status is the daemon's runtime view for inspection commands.
type Status struct {
	Running      bool
	CatalogPath  string
	LockFilePath string
	Watching     map[string]string
	ActiveJobs   []*catalog.Job
}

// New constructs a daemon and its worker pipeline around an open store.
func New(cfg *config.Config, store *catalog.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	tracker := jobs.NewTracker(store, logger)
	scan := scanner.New(cfg, store, tracker, logger)
	pool := scanner.NewPool(scan, tracker, logger, cfg.Scan.MaxWorkers)
	watch := watcher.New(store, tracker, logger)
	resolver := identity.NewResolver(logger)
	loop := discovery.NewLoop(cfg, store, resolver, pool, watch, tracker, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "diskwatchd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		tracker:  tracker,
		loop:     loop,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, recovers jobs orphaned by a previous
// crash, and launches the discovery loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another diskwatch daemon instance is already running")
	}

	recovered, err := d.tracker.RecoverOrphans(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover orphaned jobs: %w", err)
	}
	if recovered > 0 {
		d.logger.Info("stopped orphaned jobs from previous run", logging.Int("count", recovered))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		if err := d.loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("discovery loop exited", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("catalog", d.store.Path()),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop cancels the discovery loop, waits for watches and scans to record
// their terminal states, and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.done != nil {
		<-d.done
		d.done = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the catalog store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports the daemon's current activity.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	active, err := d.store.ActiveJobs(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		CatalogPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Watching:     d.loop.Watching(),
		ActiveJobs:   active,
	}, nil
}
