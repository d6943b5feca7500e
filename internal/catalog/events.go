package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordEvent appends an event and updates the owning volume's counters as one
// atomic unit. The volume row is created on first sight so an event can never
// exist without its volume. Returns the assigned event id.
//
// The disk-usage snapshot is refreshed afterwards, outside the write gate,
// when the heuristic says it is due; a failed refresh never fails the event.
func (s *Store) RecordEvent(ctx context.Context, event Event) (int64, error) {
	if event.VolumeID == "" {
		return 0, errors.New("event volume id is empty")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	timestamp := formatTime(event.Timestamp)

	var id int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO events (timestamp, event_type, path, directory, volume_id, process_id)
             VALUES (?, ?, ?, ?, ?, ?)`,
			timestamp,
			string(event.Type),
			event.Path,
			event.Directory,
			event.VolumeID,
			nullableString(event.ProcessID),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO volumes (volume_id, directory)
             VALUES (?, ?)
             ON CONFLICT(volume_id) DO UPDATE SET directory = excluded.directory`,
			event.VolumeID,
			event.Directory,
		); err != nil {
			return fmt.Errorf("upsert volume: %w", err)
		}

		createdDelta := boolDelta(event.Type == EventCreated)
		modifiedDelta := boolDelta(event.Type == EventModified)
		deletedDelta := boolDelta(event.Type == EventDeleted)

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE volumes
             SET event_count = event_count + 1,
                 created_count = created_count + ?,
                 modified_count = modified_count + ?,
                 deleted_count = deleted_count + ?,
                 last_event_timestamp = ?,
                 events_since_refresh = events_since_refresh + 1
             WHERE volume_id = ?`,
			createdDelta,
			modifiedDelta,
			deletedDelta,
			timestamp,
			event.VolumeID,
		); err != nil {
			return fmt.Errorf("update volume counters: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Refresh outside the gate; the probe may block on the filesystem.
	_ = s.RefreshUsageIfDue(ctx, event.VolumeID)

	return id, nil
}

// ListRecentEvents returns up to limit events recorded at or after since,
// newest first. A zero since returns the most recent events unconditionally.
func (s *Store) ListRecentEvents(ctx context.Context, since time.Time, limit int) ([]Event, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if since.IsZero() {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT id, timestamp, event_type, path, directory, volume_id, process_id
             FROM events ORDER BY id DESC LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT id, timestamp, event_type, path, directory, volume_id, process_id
             FROM events WHERE timestamp >= ? ORDER BY id DESC LIMIT ?`,
			formatTime(since),
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListEventsSince fetches events with an id greater than lastID in insertion
// order. Intended for pollers that tail the event log.
func (s *Store) ListEventsSince(ctx context.Context, lastID int64, limit int) ([]Event, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, timestamp, event_type, path, directory, volume_id, process_id
         FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		lastID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountEvents returns the number of events recorded for a volume. Used for
// reconciling volume counters against the event log.
func (s *Store) CountEvents(ctx context.Context, volumeID string) (int64, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM events WHERE volume_id = ?`, volumeID)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			event     Event
			rawTime   string
			eventType string
			processID sql.NullString
		)
		if err := rows.Scan(&event.ID, &rawTime, &eventType, &event.Path, &event.Directory, &event.VolumeID, &processID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = EventType(eventType)
		event.ProcessID = processID.String
		if parsed, err := parseTimeString(rawTime); err == nil {
			event.Timestamp = parsed
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func boolDelta(v bool) int {
	if v {
		return 1
	}
	return 0
}
