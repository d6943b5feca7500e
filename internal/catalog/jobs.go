package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// JobType classifies a unit of work.
type JobType string

const (
	JobTypeScan  JobType = "scan"
	JobTypeWatch JobType = "watch"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobStopped   JobStatus = "stopped"
)

// IsTerminal reports whether a status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobStopped:
		return true
	default:
		return false
	}
}

// Progress is the structured progress payload stored on a job row.
type Progress struct {
	FilesProcessed int64  `json:"files_processed"`
	TotalKnown     int64  `json:"total_known,omitempty"`
	LastPath       string `json:"last_path,omitempty"`
}

// Job is one row of the jobs table.
type Job struct {
	JobID        string
	Type         JobType
	Path         string
	VolumeID     string
	Status       JobStatus
	Progress     *Progress
	OwnerPID     string
	OwnerHost    string
	ErrorMessage string
	StartedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  time.Time
}

// StartJob inserts a new pending job. At most one active (pending or running)
// job may exist per (volume_id, job_type); a second start returns
// ErrJobConflict. The check and the insert share one transaction under the
// write gate, so concurrent starters cannot both succeed.
func (s *Store) StartJob(ctx context.Context, jobType JobType, volumeID, path string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		JobID:     uuid.NewString(),
		Type:      jobType,
		Path:      path,
		VolumeID:  volumeID,
		Status:    JobPending,
		OwnerPID:  strconv.Itoa(os.Getpid()),
		OwnerHost: hostname(),
		StartedAt: now,
		UpdatedAt: now,
	}

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var active int
		row := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(1) FROM jobs
             WHERE volume_id = ? AND job_type = ? AND status IN (?, ?)`,
			volumeID,
			string(jobType),
			string(JobPending),
			string(JobRunning),
		)
		if err := row.Scan(&active); err != nil {
			return fmt.Errorf("count active jobs: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("%w: %s for volume %s", ErrJobConflict, jobType, volumeID)
		}

		timestamp := formatTime(now)
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs
                (job_id, job_type, path, volume_id, status, progress_json,
                 owner_pid, owner_host, started_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.JobID,
			string(job.Type),
			nullableString(job.Path),
			nullableString(job.VolumeID),
			string(job.Status),
			nil,
			job.OwnerPID,
			job.OwnerHost,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkJobRunning transitions a pending job to running.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, updated_at = ?
             WHERE job_id = ? AND status = ?`,
			string(JobRunning),
			formatTime(time.Now().UTC()),
			jobID,
			string(JobPending),
		)
		if err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("job %s is not pending", jobID)
		}
		return nil
	})
}

// HeartbeatJob refreshes a job's updated_at and optionally its progress
// payload. Heartbeats against terminal jobs are silently dropped.
func (s *Store) HeartbeatJob(ctx context.Context, jobID string, progress *Progress) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		if progress != nil {
			payload, marshalErr := json.Marshal(progress)
			if marshalErr != nil {
				return fmt.Errorf("marshal progress: %w", marshalErr)
			}
			_, err = tx.ExecContext(
				ctx,
				`UPDATE jobs SET updated_at = ?, progress_json = ?
                 WHERE job_id = ? AND status IN (?, ?)`,
				formatTime(time.Now().UTC()),
				string(payload),
				jobID,
				string(JobPending),
				string(JobRunning),
			)
		} else {
			_, err = tx.ExecContext(
				ctx,
				`UPDATE jobs SET updated_at = ?
                 WHERE job_id = ? AND status IN (?, ?)`,
				formatTime(time.Now().UTC()),
				jobID,
				string(JobPending),
				string(JobRunning),
			)
		}
		if err != nil {
			return fmt.Errorf("heartbeat job: %w", err)
		}
		return nil
	})
}

// FinishJob moves a job to a terminal status exactly once. It returns true
// when this call performed the transition and false when the job was already
// terminal (a benign conflict, not an error).
func (s *Store) FinishJob(ctx context.Context, jobID string, status JobStatus, errorMessage string, progress *Progress) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}

	var transitioned bool
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now().UTC())

		var payload any
		if progress != nil {
			data, err := json.Marshal(progress)
			if err != nil {
				return fmt.Errorf("marshal progress: %w", err)
			}
			payload = string(data)
		}

		var res sql.Result
		var err error
		if payload != nil {
			res, err = tx.ExecContext(
				ctx,
				`UPDATE jobs
                 SET status = ?, error_message = ?, progress_json = ?,
                     updated_at = ?, completed_at = ?
                 WHERE job_id = ? AND status IN (?, ?)`,
				string(status),
				nullableString(errorMessage),
				payload,
				now,
				now,
				jobID,
				string(JobPending),
				string(JobRunning),
			)
		} else {
			res, err = tx.ExecContext(
				ctx,
				`UPDATE jobs
                 SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
                 WHERE job_id = ? AND status IN (?, ?)`,
				string(status),
				nullableString(errorMessage),
				now,
				now,
				jobID,
				string(JobPending),
				string(JobRunning),
			)
		}
		if err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		transitioned = affected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return transitioned, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is
// provided), most recently updated first.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	ctx = ensureContext(ctx)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY updated_at DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = string(status)
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ActiveJobs returns all pending and running jobs.
func (s *Store) ActiveJobs(ctx context.Context) ([]*Job, error) {
	return s.ListJobs(ctx, JobPending, JobRunning)
}

const jobColumns = "job_id, job_type, path, volume_id, status, progress_json, owner_pid, owner_host, error_message, started_at, updated_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		jobID        string
		jobType      string
		path         sql.NullString
		volumeID     sql.NullString
		status       string
		progressRaw  sql.NullString
		ownerPID     sql.NullString
		ownerHost    sql.NullString
		errorMessage sql.NullString
		startedRaw   sql.NullString
		updatedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&jobID,
		&jobType,
		&path,
		&volumeID,
		&status,
		&progressRaw,
		&ownerPID,
		&ownerHost,
		&errorMessage,
		&startedRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		JobID:        jobID,
		Type:         JobType(jobType),
		Path:         path.String,
		VolumeID:     volumeID.String,
		Status:       JobStatus(status),
		OwnerPID:     ownerPID.String,
		OwnerHost:    ownerHost.String,
		ErrorMessage: errorMessage.String,
		StartedAt:    timeFromNull(startedRaw),
		UpdatedAt:    timeFromNull(updatedRaw),
		CompletedAt:  timeFromNull(completedRaw),
	}
	if progressRaw.Valid && progressRaw.String != "" {
		var progress Progress
		if err := json.Unmarshal([]byte(progressRaw.String), &progress); err == nil {
			job.Progress = &progress
		}
	}
	return job, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
