package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertFile records the latest known state of a file. Re-upserting identical
// state is a no-op in effect, which is what makes archival scans idempotent.
// The created time is kept from the first observation.
func (s *Store) UpsertFile(ctx context.Context, record FileRecord) error {
	if s.ignore.Ignores(record.Path) {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO files (
                volume_id, path, directory, size_bytes, modified_time,
                created_time, last_event_timestamp, last_event_type, is_deleted
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
            ON CONFLICT(volume_id, path) DO UPDATE SET
                directory = excluded.directory,
                size_bytes = excluded.size_bytes,
                modified_time = excluded.modified_time,
                created_time = COALESCE(files.created_time, excluded.created_time),
                last_event_timestamp = excluded.last_event_timestamp,
                last_event_type = excluded.last_event_type,
                is_deleted = 0`,
			record.VolumeID,
			record.Path,
			record.Directory,
			record.SizeBytes,
			nullableTimeValue(record.ModifiedTime),
			nullableTimeValue(record.CreatedTime),
			nullableTimeValue(record.LastEventTimestamp),
			string(record.LastEventType),
		)
		if err != nil {
			return fmt.Errorf("upsert file: %w", err)
		}
		return nil
	})
}

// MarkFileDeleted flags a file row as deleted while keeping its last known
// size and timestamps queryable. A delete for a path the catalog never saw is
// a no-op; the event log still carries the deletion.
func (s *Store) MarkFileDeleted(ctx context.Context, volumeID, path string, event Event) error {
	if s.ignore.Ignores(path) {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`UPDATE files
             SET is_deleted = 1,
                 last_event_timestamp = ?,
                 last_event_type = ?
             WHERE volume_id = ? AND path = ?`,
			nullableTimeValue(event.Timestamp),
			string(event.Type),
			volumeID,
			path,
		)
		if err != nil {
			return fmt.Errorf("mark file deleted: %w", err)
		}
		return nil
	})
}

// GetFile returns one file row, or nil when no row exists.
func (s *Store) GetFile(ctx context.Context, volumeID, path string) (*FileRecord, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+fileColumns+` FROM files WHERE volume_id = ? AND path = ?`,
		volumeID,
		path,
	)
	record, err := scanFileRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &record, nil
}

// ListFiles returns up to limit file rows for a volume ordered by most recent
// activity. An empty volumeID lists files across all volumes.
func (s *Store) ListFiles(ctx context.Context, volumeID string, limit int) ([]FileRecord, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if volumeID == "" {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT `+fileColumns+` FROM files
             ORDER BY (last_event_timestamp IS NULL), last_event_timestamp DESC LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT `+fileColumns+` FROM files WHERE volume_id = ?
             ORDER BY (last_event_timestamp IS NULL), last_event_timestamp DESC LIMIT ?`,
			volumeID,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		record, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SummarizeFiles aggregates event activity per file ordered by most recent
// change.
func (s *Store) SummarizeFiles(ctx context.Context, limit int) ([]FileActivity, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT
            e.path,
            e.volume_id,
            e.directory,
            COUNT(*) AS total_events,
            MIN(e.timestamp) AS first_seen,
            MAX(e.timestamp) AS last_seen,
            (
                SELECT latest.event_type
                FROM events AS latest
                WHERE latest.path = e.path
                  AND latest.volume_id = e.volume_id
                ORDER BY latest.id DESC
                LIMIT 1
            ) AS last_event_type
        FROM events AS e
        GROUP BY e.path, e.volume_id, e.directory
        ORDER BY last_seen DESC
        LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize files: %w", err)
	}
	defer rows.Close()

	var activities []FileActivity
	for rows.Next() {
		var (
			activity  FileActivity
			firstSeen sql.NullString
			lastSeen  sql.NullString
			lastType  sql.NullString
		)
		if err := rows.Scan(
			&activity.Path,
			&activity.VolumeID,
			&activity.Directory,
			&activity.TotalEvents,
			&firstSeen,
			&lastSeen,
			&lastType,
		); err != nil {
			return nil, fmt.Errorf("scan file activity: %w", err)
		}
		activity.FirstSeen = timeFromNull(firstSeen)
		activity.LastSeen = timeFromNull(lastSeen)
		activity.LastEventType = EventType(lastType.String)
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

const fileColumns = "volume_id, path, directory, size_bytes, modified_time, created_time, last_event_timestamp, last_event_type, is_deleted"

func scanFileRecord(scanner interface{ Scan(dest ...any) error }) (FileRecord, error) {
	var (
		record      FileRecord
		sizeBytes   sql.NullInt64
		modifiedRaw sql.NullString
		createdRaw  sql.NullString
		lastEvent   sql.NullString
		lastType    sql.NullString
		isDeleted   int
	)
	if err := scanner.Scan(
		&record.VolumeID,
		&record.Path,
		&record.Directory,
		&sizeBytes,
		&modifiedRaw,
		&createdRaw,
		&lastEvent,
		&lastType,
		&isDeleted,
	); err != nil {
		return FileRecord{}, err
	}
	record.SizeBytes = sizeBytes.Int64
	record.ModifiedTime = timeFromNull(modifiedRaw)
	record.CreatedTime = timeFromNull(createdRaw)
	record.LastEventTimestamp = timeFromNull(lastEvent)
	record.LastEventType = EventType(lastType.String)
	record.IsDeleted = isDeleted != 0
	return record, nil
}
