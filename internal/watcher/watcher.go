package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"diskwatch/internal/catalog"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
)

const heartbeatInterval = 30 * time.Second

// Watcher records live filesystem changes beneath a volume's mount point.
// Each change appends an event and refreshes the file's catalog row, with
// deletions keeping the last known metadata. The watch ends in a stopped job
// on cancellation or when the watched root disappears, and a failed job only
// on unexpected watcher errors.
type Watcher struct {
	store   *catalog.Store
	tracker *jobs.Tracker
	logger  *slog.Logger
}

func New(store *catalog.Store, tracker *jobs.Tracker, logger *slog.Logger) *Watcher {
	return &Watcher{
		store:   store,
		tracker: tracker,
		logger:  logging.NewComponentLogger(logger, "watcher"),
	}
}

// Run watches an already-registered job's path until the context is canceled
// or the path goes away. Watches are registered per directory, including
// directories created while the watch is live.
func (w *Watcher) Run(ctx context.Context, job *catalog.Job) error {
	logger := w.logger.With(
		logging.String("job_id", job.JobID),
		logging.String("volume_id", job.VolumeID),
		logging.String("path", job.Path),
	)

	if err := ctx.Err(); err != nil {
		w.finishStopped(ctx, job.JobID, "watch interrupted", nil)
		return err
	}

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		w.finishFailed(ctx, job.JobID, err, nil)
		return err
	}
	defer notifier.Close()

	if err := addWatchTree(notifier, job.Path); err != nil {
		w.finishFailed(ctx, job.JobID, err, nil)
		return err
	}

	if err := w.tracker.Run(ctx, job.JobID); err != nil {
		if ctx.Err() != nil {
			w.finishStopped(ctx, job.JobID, "watch interrupted", nil)
			return ctx.Err()
		}
		return err
	}
	logger.Info("watch started")

	progress := &catalog.Progress{}
	pid := strconv.Itoa(os.Getpid())
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finishStopped(ctx, job.JobID, "watch interrupted", progress)
			logger.Info("watch stopped", logging.Int64("events", progress.FilesProcessed))
			return ctx.Err()

		case <-ticker.C:
			if err := w.tracker.Heartbeat(ctx, job.JobID, progress); err != nil {
				logger.Warn("watch heartbeat failed", logging.Error(err))
			}

		case event, ok := <-notifier.Events:
			if !ok {
				w.finishStopped(ctx, job.JobID, "watch closed", progress)
				return nil
			}
			if w.rootGone(event, job.Path) {
				w.finishStopped(ctx, job.JobID, "watched path disappeared", progress)
				logger.Info("watched path disappeared")
				return nil
			}
			if err := w.handleEvent(ctx, notifier, job, pid, event, progress); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					w.finishStopped(ctx, job.JobID, "watch interrupted", progress)
					return err
				}
				// A single dropped write is logged, not fatal to the watch.
				logger.Warn("event handling failed",
					logging.String("event_path", event.Name),
					logging.Error(err),
				)
			}

		case watchErr, ok := <-notifier.Errors:
			if !ok {
				w.finishStopped(ctx, job.JobID, "watch closed", progress)
				return nil
			}
			if _, statErr := os.Stat(job.Path); statErr != nil {
				w.finishStopped(ctx, job.JobID, "watched path disappeared", progress)
				logger.Info("watched path disappeared", logging.Error(watchErr))
				return nil
			}
			w.finishFailed(ctx, job.JobID, watchErr, progress)
			logger.Error("watch failed", logging.Error(watchErr))
			return watchErr
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, notifier *fsnotify.Watcher, job *catalog.Job, pid string, event fsnotify.Event, progress *catalog.Progress) error {
	switch {
	case event.Op.Has(fsnotify.Create):
		info, err := os.Lstat(event.Name)
		if err != nil {
			// Already gone again; the delete will follow.
			return nil
		}
		if info.IsDir() {
			// Files written into the new directory before its watch
			// registered would otherwise be missed.
			return w.catalogNewTree(ctx, notifier, job, pid, event.Name, progress)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return w.recordChange(ctx, job, pid, catalog.EventCreated, event.Name, info, progress)

	case event.Op.Has(fsnotify.Write):
		info, err := os.Lstat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		return w.recordChange(ctx, job, pid, catalog.EventModified, event.Name, info, progress)

	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		return w.recordDeletion(ctx, job, pid, event.Name, progress)
	}
	return nil
}

func (w *Watcher) recordChange(ctx context.Context, job *catalog.Job, pid string, eventType catalog.EventType, path string, info os.FileInfo, progress *catalog.Progress) error {
	now := time.Now().UTC()
	if _, err := w.store.RecordEvent(ctx, catalog.Event{
		Timestamp: now,
		Type:      eventType,
		Path:      path,
		Directory: job.Path,
		VolumeID:  job.VolumeID,
		ProcessID: pid,
	}); err != nil {
		return err
	}
	if err := w.store.UpsertFile(ctx, catalog.FileRecord{
		VolumeID:           job.VolumeID,
		Path:               path,
		Directory:          job.Path,
		SizeBytes:          info.Size(),
		ModifiedTime:       info.ModTime().UTC(),
		CreatedTime:        now,
		LastEventTimestamp: now,
		LastEventType:      eventType,
	}); err != nil {
		return err
	}
	progress.FilesProcessed++
	progress.LastPath = path
	return nil
}

func (w *Watcher) recordDeletion(ctx context.Context, job *catalog.Job, pid, path string, progress *catalog.Progress) error {
	now := time.Now().UTC()
	event := catalog.Event{
		Timestamp: now,
		Type:      catalog.EventDeleted,
		Path:      path,
		Directory: job.Path,
		VolumeID:  job.VolumeID,
		ProcessID: pid,
	}
	if _, err := w.store.RecordEvent(ctx, event); err != nil {
		return err
	}
	if err := w.store.MarkFileDeleted(ctx, job.VolumeID, path, event); err != nil {
		return err
	}
	progress.FilesProcessed++
	progress.LastPath = path
	return nil
}

// catalogNewTree registers watches for a directory created mid-watch and
// records created events for anything already inside it.
func (w *Watcher) catalogNewTree(ctx context.Context, notifier *fsnotify.Watcher, job *catalog.Job, pid, root string, progress *catalog.Progress) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if addErr := notifier.Add(path); addErr != nil {
				w.logger.Warn("failed to watch new directory",
					logging.String("path", path),
					logging.Error(addErr),
				)
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		return w.recordChange(ctx, job, pid, catalog.EventCreated, path, info, progress)
	})
}

func (w *Watcher) rootGone(event fsnotify.Event, root string) bool {
	if event.Name != root {
		return false
	}
	return event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)
}

func (w *Watcher) finishStopped(ctx context.Context, jobID, message string, progress *catalog.Progress) {
	if err := w.tracker.Stop(context.WithoutCancel(ctx), jobID, message, progress); err != nil {
		w.logger.Warn("failed to record stopped watch", logging.String("job_id", jobID), logging.Error(err))
	}
}

func (w *Watcher) finishFailed(ctx context.Context, jobID string, cause error, progress *catalog.Progress) {
	if err := w.tracker.Fail(context.WithoutCancel(ctx), jobID, cause.Error(), progress); err != nil {
		w.logger.Warn("failed to record failed watch", logging.String("job_id", jobID), logging.Error(err))
	}
}

// addWatchTree registers the root and every directory beneath it.
func addWatchTree(notifier *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		return notifier.Add(path)
	})
}
