package jobs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"diskwatch/internal/catalog"
	"diskwatch/internal/logging"
)

// Store is the catalog surface the tracker drives.
type Store interface {
	StartJob(ctx context.Context, jobType catalog.JobType, volumeID, path string) (*catalog.Job, error)
	MarkJobRunning(ctx context.Context, jobID string) error
	HeartbeatJob(ctx context.Context, jobID string, progress *catalog.Progress) error
	FinishJob(ctx context.Context, jobID string, status catalog.JobStatus, errorMessage string, progress *catalog.Progress) (bool, error)
	ActiveJobs(ctx context.Context) ([]*catalog.Job, error)
}

// Tracker wraps the catalog job table with the lifecycle rules workers rely
// on: one active job per volume and type, heartbeats while work is in flight,
// and a terminal transition recorded exactly once.
type Tracker struct {
	store  Store
	logger *slog.Logger
}

func NewTracker(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logging.NewComponentLogger(logger, "jobs"),
	}
}

// Start registers a pending job. ErrJobConflict passes through unchanged so
// callers can treat an already-active job as satisfied.
func (t *Tracker) Start(ctx context.Context, jobType catalog.JobType, volumeID, path string) (*catalog.Job, error) {
	return t.store.StartJob(ctx, jobType, volumeID, path)
}

// Run transitions a pending job to running.
func (t *Tracker) Run(ctx context.Context, jobID string) error {
	return t.store.MarkJobRunning(ctx, jobID)
}

// Heartbeat refreshes the job's liveness timestamp and progress. Heartbeats
// arriving after the job reached a terminal state are dropped by the store;
// that is not an error for the worker.
func (t *Tracker) Heartbeat(ctx context.Context, jobID string, progress *catalog.Progress) error {
	return t.store.HeartbeatJob(ctx, jobID, progress)
}

// Complete records a successful terminal state.
func (t *Tracker) Complete(ctx context.Context, jobID string, progress *catalog.Progress) error {
	return t.finish(ctx, jobID, catalog.JobCompleted, "", progress)
}

// Fail records a failed terminal state with the worker's error message.
func (t *Tracker) Fail(ctx context.Context, jobID, message string, progress *catalog.Progress) error {
	return t.finish(ctx, jobID, catalog.JobFailed, message, progress)
}

// Stop records an operator or shutdown initiated terminal state.
func (t *Tracker) Stop(ctx context.Context, jobID, message string, progress *catalog.Progress) error {
	return t.finish(ctx, jobID, catalog.JobStopped, message, progress)
}

const (
	finishRetryAttempts = 5
	finishRetryDelay    = 100 * time.Millisecond
)

func (t *Tracker) finish(ctx context.Context, jobID string, status catalog.JobStatus, message string, progress *catalog.Progress) error {
	var (
		finished bool
		err      error
	)
	// A terminal transition must land even under store contention; a job left
	// active would block its volume through the one-active-job rule.
	for attempt := 0; attempt < finishRetryAttempts; attempt++ {
		finished, err = t.store.FinishJob(ctx, jobID, status, message, progress)
		if err == nil || !errors.Is(err, catalog.ErrStoreBusy) {
			break
		}
		select {
		case <-time.After(finishRetryDelay):
		case <-ctx.Done():
			return err
		}
	}
	if err != nil {
		return err
	}
	if !finished {
		// Another path already recorded a terminal state; keep the first one.
		t.logger.Debug("job already terminal",
			logging.String("job_id", jobID),
			logging.String("requested_status", string(status)),
		)
	}
	return nil
}

// RecoverOrphans stops active jobs owned by processes on this host that no
// longer exist. It runs once at daemon startup, before new workers launch, so
// jobs abandoned by a crashed daemon do not block their volumes forever.
func (t *Tracker) RecoverOrphans(ctx context.Context) (int, error) {
	active, err := t.store.ActiveJobs(ctx)
	if err != nil {
		return 0, err
	}

	host, _ := os.Hostname()
	recovered := 0
	for _, job := range active {
		if job.OwnerHost != host {
			continue
		}
		pid, err := strconv.Atoi(job.OwnerPID)
		if err != nil || pid <= 0 {
			continue
		}
		if pid == os.Getpid() || processAlive(pid) {
			continue
		}
		finished, err := t.store.FinishJob(ctx, job.JobID, catalog.JobStopped, "owner process exited", job.Progress)
		if err != nil {
			return recovered, err
		}
		if finished {
			recovered++
			t.logger.Info("recovered orphaned job",
				logging.String("job_id", job.JobID),
				logging.String("job_type", string(job.Type)),
				logging.String("volume_id", job.VolumeID),
				logging.String("owner_pid", job.OwnerPID),
			)
		}
	}
	return recovered, nil
}

// processAlive reports whether a pid refers to a live process. Signal 0
// performs the existence check without delivering anything; EPERM still means
// the process exists.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
