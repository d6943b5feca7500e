package scanner

import (
	"context"
	"log/slog"
	"sync"

	"diskwatch/internal/catalog"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
)

// Pool bounds how many scans run at once. Jobs are registered immediately so
// they are visible as pending, then wait for a worker slot; a daemon with one
// worker scanning a slow disk still accepts scan requests for other volumes.
type Pool struct {
	scanner *Scanner
	tracker *jobs.Tracker
	logger  *slog.Logger
	slots   chan struct{}
	wg      sync.WaitGroup
}

func NewPool(scanner *Scanner, tracker *jobs.Tracker, logger *slog.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		scanner: scanner,
		tracker: tracker,
		logger:  logging.NewComponentLogger(logger, "scan-pool"),
		slots:   make(chan struct{}, workers),
	}
}

// Enqueue registers a pending scan job for the volume and schedules it. A
// volume with an active scan returns catalog.ErrJobConflict and no new job.
func (p *Pool) Enqueue(ctx context.Context, volumeID, root string) (*catalog.Job, error) {
	job, err := p.tracker.Start(ctx, catalog.JobTypeScan, volumeID, root)
	if err != nil {
		return nil, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			if err := p.tracker.Stop(context.WithoutCancel(ctx), job.JobID, "scan interrupted", nil); err != nil {
				p.logger.Warn("failed to stop queued scan",
					logging.String("job_id", job.JobID),
					logging.Error(err),
				)
			}
			return
		}
		defer func() { <-p.slots }()

		if err := p.scanner.Run(ctx, job); err != nil && ctx.Err() == nil {
			p.logger.Warn("scan worker finished with error",
				logging.String("job_id", job.JobID),
				logging.String("volume_id", volumeID),
				logging.Error(err),
			)
		}
	}()
	return job, nil
}

// Wait blocks until every scheduled scan has finished or recorded its
// terminal state after cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}
