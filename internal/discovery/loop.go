package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/identity"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
	"diskwatch/internal/scanner"
	"diskwatch/internal/watcher"
)

// Loop polls the mount table for volumes appearing and disappearing beneath
// the configured roots. A new mount gets its identity resolved and saved, an
// archival scan enqueued (when auto scan is on), and a live watch started. A
// vanished mount has its scan and watch canceled; the canceled jobs record
// themselves stopped. Each tick is idempotent: volumes already being tracked
// are left alone, and duplicate job starts are treated as already satisfied.
type Loop struct {
	cfg      *config.Config
	store    *catalog.Store
	resolver *identity.Resolver
	pool     *scanner.Pool
	watcher  *watcher.Watcher
	tracker  *jobs.Tracker
	logger   *slog.Logger

	wake    chan struct{}
	netlink *netlinkWakeup

	// mountPoints is swapped in tests to avoid a real mount table.
	mountPoints func(roots []string) ([]string, error)

	mu      sync.Mutex
	watches map[string]*volumeHandle
	wg      sync.WaitGroup
}

// volumeHandle tracks one mounted volume. Its cancel covers the volume's
// context, which both the scan and the watch run under, so a detach stops
// whichever of the two is still in flight.
type volumeHandle struct {
	volumeID string
	cancel   context.CancelFunc
}

func NewLoop(
	cfg *config.Config,
	store *catalog.Store,
	resolver *identity.Resolver,
	pool *scanner.Pool,
	w *watcher.Watcher,
	tracker *jobs.Tracker,
	logger *slog.Logger,
) *Loop {
	wake := make(chan struct{}, 1)
	loopLogger := logging.NewComponentLogger(logger, "discovery")
	return &Loop{
		cfg:         cfg,
		store:       store,
		resolver:    resolver,
		pool:        pool,
		watcher:     w,
		tracker:     tracker,
		logger:      loopLogger,
		wake:        wake,
		netlink:     newNetlinkWakeup(logger, wake),
		mountPoints: MountPoints,
		watches:     make(map[string]*volumeHandle),
	}
}

// Run drives discovery until the context is canceled, then tears down every
// watch it started and waits for scans to record their terminal states.
func (l *Loop) Run(ctx context.Context) error {
	interval := time.Duration(l.cfg.Discovery.PollInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	l.netlink.Start(ctx)
	defer l.netlink.Stop()

	l.logger.Info("discovery started", logging.Duration("poll_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		case <-l.wake:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	mounts, err := l.mountPoints(l.cfg.Discovery.Roots)
	if err != nil {
		l.logger.Warn("mount table read failed", logging.Error(err))
		return
	}

	current := make(map[string]struct{}, len(mounts))
	for _, mount := range mounts {
		current[mount] = struct{}{}
	}

	l.mu.Lock()
	var attach []string
	for _, mount := range mounts {
		if _, ok := l.watches[mount]; !ok {
			attach = append(attach, mount)
		}
	}
	var detach []string
	for mount := range l.watches {
		if _, ok := current[mount]; !ok {
			detach = append(detach, mount)
		}
	}
	l.mu.Unlock()

	for _, mount := range detach {
		l.detachVolume(mount)
	}
	for _, mount := range attach {
		l.attachVolume(ctx, mount)
	}
}

func (l *Loop) attachVolume(ctx context.Context, mount string) {
	id := l.resolver.Resolve(ctx, mount)
	if err := l.store.SaveVolumeIdentity(ctx, id.VolumeID, mount, identity.Snapshot(id)); err != nil {
		l.logger.Warn("failed to save volume identity",
			logging.String("volume_id", id.VolumeID),
			logging.String("mount", mount),
			logging.Error(err),
		)
	}

	l.logger.Info("volume discovered",
		logging.String("volume_id", id.VolumeID),
		logging.String("mount", mount),
	)

	volumeCtx, cancel := context.WithCancel(ctx)
	handle := &volumeHandle{volumeID: id.VolumeID, cancel: cancel}
	l.mu.Lock()
	l.watches[mount] = handle
	l.mu.Unlock()

	if l.cfg.Scan.AutoScan {
		if _, err := l.pool.Enqueue(volumeCtx, id.VolumeID, mount); err != nil {
			if errors.Is(err, catalog.ErrJobConflict) {
				l.logger.Debug("scan already active", logging.String("volume_id", id.VolumeID))
			} else {
				l.logger.Warn("failed to enqueue scan",
					logging.String("volume_id", id.VolumeID),
					logging.Error(err),
				)
			}
		}
	}

	job, err := l.tracker.Start(ctx, catalog.JobTypeWatch, id.VolumeID, mount)
	if err != nil {
		if errors.Is(err, catalog.ErrJobConflict) {
			l.logger.Debug("watch already active", logging.String("volume_id", id.VolumeID))
		} else {
			l.logger.Warn("failed to start watch job",
				logging.String("volume_id", id.VolumeID),
				logging.Error(err),
			)
		}
		// The handle stays registered so a later detach still cancels the
		// scan enqueued above.
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.forgetVolume(mount, handle)
		if err := l.watcher.Run(volumeCtx, job); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("watch ended with error",
				logging.String("volume_id", id.VolumeID),
				logging.String("mount", mount),
				logging.Error(err),
			)
		}
	}()
}

func (l *Loop) detachVolume(mount string) {
	l.mu.Lock()
	handle, ok := l.watches[mount]
	if ok {
		delete(l.watches, mount)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	l.logger.Info("volume detached",
		logging.String("volume_id", handle.volumeID),
		logging.String("mount", mount),
	)
	handle.cancel()
}

// forgetVolume clears the handle when a watch exits on its own, such as when
// its root disappeared before the poll noticed the unmount. The cancel also
// stops a scan still walking the vanished tree. The identity check keeps an
// exiting watch from dropping a successor registered for the same mount.
func (l *Loop) forgetVolume(mount string, handle *volumeHandle) {
	handle.cancel()
	l.mu.Lock()
	if current, ok := l.watches[mount]; ok && current == handle {
		delete(l.watches, mount)
	}
	l.mu.Unlock()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	handles := make([]*volumeHandle, 0, len(l.watches))
	for mount, handle := range l.watches {
		handles = append(handles, handle)
		delete(l.watches, mount)
	}
	l.mu.Unlock()

	for _, handle := range handles {
		handle.cancel()
	}
	l.wg.Wait()
	l.pool.Wait()
}

// Watching returns the volume ids currently tracked by the loop, keyed by
// mount point.
func (l *Loop) Watching() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.watches))
	for mount, handle := range l.watches {
		out[mount] = handle.volumeID
	}
	return out
}
