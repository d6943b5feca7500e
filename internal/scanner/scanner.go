package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
)

// Catalog is the slice of the store a scan writes through.
type Catalog interface {
	RecordEvent(ctx context.Context, event catalog.Event) (int64, error)
	UpsertFile(ctx context.Context, record catalog.FileRecord) error
}

// Scanner walks a mounted volume and catalogs every regular file it finds.
// Each file produces a discovered event plus an upsert into the files table
// (the store drops file rows for transient names), so a scan of an unchanged
// volume is idempotent at the files level while the event log keeps a record
// of every pass.
type Scanner struct {
	store   Catalog
	tracker *jobs.Tracker
	logger  *slog.Logger
	tick    int
}

func New(cfg *config.Config, store Catalog, tracker *jobs.Tracker, logger *slog.Logger) *Scanner {
	tick := cfg.Scan.ProgressTickFiles
	if tick <= 0 {
		tick = 200
	}
	return &Scanner{
		store:   store,
		tracker: tracker,
		logger:  logging.NewComponentLogger(logger, "scanner"),
		tick:    tick,
	}
}

// Run executes the scan for an already-registered job and records its
// terminal state: completed after a full walk, failed when the walk errors,
// stopped on cancellation. Terminal writes use a detached context so shutdown
// cannot lose the final transition.
func (s *Scanner) Run(ctx context.Context, job *catalog.Job) error {
	logger := s.logger.With(
		logging.String("job_id", job.JobID),
		logging.String("volume_id", job.VolumeID),
		logging.String("path", job.Path),
	)

	if err := ctx.Err(); err != nil {
		s.finishStopped(ctx, job.JobID, nil)
		return err
	}
	if err := s.tracker.Run(ctx, job.JobID); err != nil {
		if ctx.Err() != nil {
			s.finishStopped(ctx, job.JobID, nil)
			return ctx.Err()
		}
		return err
	}

	logger.Info("scan started")
	progress := &catalog.Progress{}
	err := s.walk(ctx, job, progress)

	switch {
	case err == nil:
		if finishErr := s.tracker.Complete(ctx, job.JobID, progress); finishErr != nil {
			return finishErr
		}
		logger.Info("scan completed", logging.Int64("files", progress.FilesProcessed))
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.finishStopped(ctx, job.JobID, progress)
		logger.Info("scan stopped", logging.Int64("files", progress.FilesProcessed))
		return err
	default:
		if finishErr := s.tracker.Fail(context.WithoutCancel(ctx), job.JobID, err.Error(), progress); finishErr != nil {
			return finishErr
		}
		logger.Error("scan failed", logging.Error(err))
		return err
	}
}

func (s *Scanner) walk(ctx context.Context, job *catalog.Job, progress *catalog.Progress) error {
	pid := strconv.Itoa(os.Getpid())

	return filepath.WalkDir(job.Path, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == job.Path {
				return err
			}
			// Unreadable subtree: note it and keep walking the rest.
			s.logger.Warn("skipping unreadable path",
				logging.String("path", path),
				logging.Error(err),
			)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			// File vanished between readdir and stat.
			return nil
		}

		now := time.Now().UTC()
		if _, err := s.store.RecordEvent(ctx, catalog.Event{
			Timestamp: now,
			Type:      catalog.EventDiscovered,
			Path:      path,
			Directory: job.Path,
			VolumeID:  job.VolumeID,
			ProcessID: pid,
		}); err != nil {
			if !errors.Is(err, catalog.ErrStoreBusy) {
				return err
			}
			// A single dropped write is logged, not fatal to the scan.
			s.logger.Warn("dropped discovered event",
				logging.String("path", path),
				logging.Error(err),
			)
			return nil
		}
		if err := s.store.UpsertFile(ctx, catalog.FileRecord{
			VolumeID:           job.VolumeID,
			Path:               path,
			Directory:          job.Path,
			SizeBytes:          info.Size(),
			ModifiedTime:       info.ModTime().UTC(),
			CreatedTime:        now,
			LastEventTimestamp: now,
			LastEventType:      catalog.EventDiscovered,
		}); err != nil {
			if !errors.Is(err, catalog.ErrStoreBusy) {
				return err
			}
			s.logger.Warn("dropped file upsert",
				logging.String("path", path),
				logging.Error(err),
			)
			return nil
		}

		progress.FilesProcessed++
		progress.LastPath = path
		if progress.FilesProcessed%int64(s.tick) == 0 {
			if err := s.tracker.Heartbeat(ctx, job.JobID, progress); err != nil {
				s.logger.Warn("progress heartbeat failed", logging.Error(err))
			}
		}
		return nil
	})
}

func (s *Scanner) finishStopped(ctx context.Context, jobID string, progress *catalog.Progress) {
	if err := s.tracker.Stop(context.WithoutCancel(ctx), jobID, "scan interrupted", progress); err != nil {
		s.logger.Warn("failed to record stopped scan", logging.String("job_id", jobID), logging.Error(err))
	}
}
