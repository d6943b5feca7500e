package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SummarizeByVolume aggregates the event log per volume and joins in the
// persisted usage snapshot. Rows are ordered by most recent activity.
func (s *Store) SummarizeByVolume(ctx context.Context) ([]VolumeSummary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT
            e.volume_id,
            e.directory,
            COUNT(*) AS total_events,
            SUM(CASE WHEN e.event_type = 'created' THEN 1 ELSE 0 END) AS created,
            SUM(CASE WHEN e.event_type = 'modified' THEN 1 ELSE 0 END) AS modified,
            SUM(CASE WHEN e.event_type = 'deleted' THEN 1 ELSE 0 END) AS deleted,
            MIN(e.timestamp) AS first_seen,
            MAX(e.timestamp) AS last_seen,
            v.usage_total_bytes,
            v.usage_used_bytes,
            v.usage_free_bytes,
            v.usage_refreshed_at
        FROM events AS e
        LEFT JOIN volumes AS v ON v.volume_id = e.volume_id
        GROUP BY e.volume_id, e.directory
        ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize by volume: %w", err)
	}
	defer rows.Close()

	var summaries []VolumeSummary
	for rows.Next() {
		var (
			summary    VolumeSummary
			firstSeen  sql.NullString
			lastSeen   sql.NullString
			total      sql.NullInt64
			used       sql.NullInt64
			free       sql.NullInt64
			refreshRaw sql.NullString
		)
		if err := rows.Scan(
			&summary.VolumeID,
			&summary.Directory,
			&summary.Total,
			&summary.Created,
			&summary.Modified,
			&summary.Deleted,
			&firstSeen,
			&lastSeen,
			&total,
			&used,
			&free,
			&refreshRaw,
		); err != nil {
			return nil, fmt.Errorf("scan volume summary: %w", err)
		}
		summary.FirstSeen = timeFromNull(firstSeen)
		summary.LastSeen = timeFromNull(lastSeen)
		summary.Usage = UsageSnapshot{
			TotalBytes:  total.Int64,
			UsedBytes:   used.Int64,
			FreeBytes:   free.Int64,
			RefreshedAt: timeFromNull(refreshRaw),
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// FetchVolumes returns the full persisted state of every tracked volume,
// ordered by most recent event.
func (s *Store) FetchVolumes(ctx context.Context) ([]VolumeRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT
            volume_id, directory, event_count, created_count, modified_count,
            deleted_count, last_event_timestamp,
            usage_total_bytes, usage_used_bytes, usage_free_bytes,
            usage_refreshed_at, events_since_refresh,
            mount_device, mount_point, mount_uuid, mount_label,
            lsblk_model, lsblk_serial, lsblk_vendor, lsblk_fsver,
            lsblk_pttype, lsblk_ptuuid, lsblk_partuuid, lsblk_wwn,
            lsblk_json, identity_refreshed_at
        FROM volumes
        ORDER BY (last_event_timestamp IS NULL), last_event_timestamp DESC, volume_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch volumes: %w", err)
	}
	defer rows.Close()

	var records []VolumeRecord
	for rows.Next() {
		record, err := scanVolumeRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetVolume returns one volume row, or nil when the volume is unknown.
func (s *Store) GetVolume(ctx context.Context, volumeID string) (*VolumeRecord, error) {
	records, err := s.FetchVolumes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].VolumeID == volumeID {
			return &records[i], nil
		}
	}
	return nil, nil
}

// SaveVolumeIdentity persists the identity snapshot for a volume, creating the
// volume row when needed.
func (s *Store) SaveVolumeIdentity(ctx context.Context, volumeID, directory string, identity VolumeIdentitySnapshot) error {
	refreshed := identity.RefreshedAt
	if refreshed.IsZero() {
		refreshed = time.Now().UTC()
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO volumes (volume_id, directory)
             VALUES (?, ?)
             ON CONFLICT(volume_id) DO UPDATE SET directory = excluded.directory`,
			volumeID,
			directory,
		); err != nil {
			return fmt.Errorf("upsert volume: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE volumes
             SET mount_device = ?, mount_point = ?, mount_uuid = ?, mount_label = ?,
                 lsblk_model = ?, lsblk_serial = ?, lsblk_vendor = ?, lsblk_fsver = ?,
                 lsblk_pttype = ?, lsblk_ptuuid = ?, lsblk_partuuid = ?, lsblk_wwn = ?,
                 lsblk_json = ?, identity_refreshed_at = ?
             WHERE volume_id = ?`,
			nullableString(identity.MountDevice),
			nullableString(identity.MountPoint),
			nullableString(identity.MountUUID),
			nullableString(identity.MountLabel),
			nullableString(identity.Model),
			nullableString(identity.Serial),
			nullableString(identity.Vendor),
			nullableString(identity.FSVersion),
			nullableString(identity.PTType),
			nullableString(identity.PTUUID),
			nullableString(identity.PartUUID),
			nullableString(identity.WWN),
			nullableString(identity.RawJSON),
			formatTime(refreshed),
			volumeID,
		); err != nil {
			return fmt.Errorf("update volume identity: %w", err)
		}
		return nil
	})
}

// RefreshUsageIfDue probes disk usage for a volume when the event counter or
// the snapshot age crosses its threshold, then resets the counter. The probe
// runs outside the write gate. A volume with no recorded directory is skipped.
func (s *Store) RefreshUsageIfDue(ctx context.Context, volumeID string) error {
	ctx = ensureContext(ctx)

	row := s.db.QueryRowContext(
		ctx,
		`SELECT directory, usage_refreshed_at, events_since_refresh
         FROM volumes WHERE volume_id = ?`,
		volumeID,
	)
	var (
		directory    string
		refreshedRaw sql.NullString
		sinceRefresh int64
	)
	if err := row.Scan(&directory, &refreshedRaw, &sinceRefresh); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("read usage state: %w", err)
	}

	now := time.Now().UTC()
	due := !refreshedRaw.Valid
	if refreshedRaw.Valid {
		if last, err := parseTimeString(refreshedRaw.String); err == nil {
			due = now.Sub(last) >= s.usageInterval
		} else {
			due = true
		}
	}
	if sinceRefresh >= s.usageThreshold {
		due = true
	}
	if !due || directory == "" {
		return nil
	}

	total, used, free, err := s.usageProbe(directory)
	if err != nil {
		// Removable media may be gone by the time we probe; keep the old
		// snapshot and try again on a later event.
		return nil
	}

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`UPDATE volumes
             SET usage_total_bytes = ?, usage_used_bytes = ?, usage_free_bytes = ?,
                 usage_refreshed_at = ?, events_since_refresh = 0
             WHERE volume_id = ?`,
			total,
			used,
			free,
			formatTime(now),
			volumeID,
		)
		if err != nil {
			return fmt.Errorf("update usage snapshot: %w", err)
		}
		return nil
	})
}

func probeDiskUsage(directory string) (total, used, free int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(directory, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("statfs %q: %w", directory, err)
	}
	blockSize := int64(stat.Bsize)
	total = int64(stat.Blocks) * blockSize
	free = int64(stat.Bavail) * blockSize
	used = total - int64(stat.Bfree)*blockSize
	return total, used, free, nil
}

func scanVolumeRecord(rows *sql.Rows) (VolumeRecord, error) {
	var (
		record       VolumeRecord
		lastEventRaw sql.NullString
		usageTotal   sql.NullInt64
		usageUsed    sql.NullInt64
		usageFree    sql.NullInt64
		usageRefresh sql.NullString
		mountDevice  sql.NullString
		mountPoint   sql.NullString
		mountUUID    sql.NullString
		mountLabel   sql.NullString
		model        sql.NullString
		serial       sql.NullString
		vendor       sql.NullString
		fsver        sql.NullString
		pttype       sql.NullString
		ptuuid       sql.NullString
		partuuid     sql.NullString
		wwn          sql.NullString
		rawJSON      sql.NullString
		identityAt   sql.NullString
	)
	if err := rows.Scan(
		&record.VolumeID,
		&record.Directory,
		&record.EventCount,
		&record.CreatedCount,
		&record.ModifiedCount,
		&record.DeletedCount,
		&lastEventRaw,
		&usageTotal,
		&usageUsed,
		&usageFree,
		&usageRefresh,
		&record.EventsSinceRefresh,
		&mountDevice,
		&mountPoint,
		&mountUUID,
		&mountLabel,
		&model,
		&serial,
		&vendor,
		&fsver,
		&pttype,
		&ptuuid,
		&partuuid,
		&wwn,
		&rawJSON,
		&identityAt,
	); err != nil {
		return VolumeRecord{}, fmt.Errorf("scan volume: %w", err)
	}

	record.LastEventTimestamp = timeFromNull(lastEventRaw)
	record.Usage = UsageSnapshot{
		TotalBytes:  usageTotal.Int64,
		UsedBytes:   usageUsed.Int64,
		FreeBytes:   usageFree.Int64,
		RefreshedAt: timeFromNull(usageRefresh),
	}
	record.Identity = VolumeIdentitySnapshot{
		MountDevice: mountDevice.String,
		MountPoint:  mountPoint.String,
		MountUUID:   mountUUID.String,
		MountLabel:  mountLabel.String,
		Model:       model.String,
		Serial:      serial.String,
		Vendor:      vendor.String,
		FSVersion:   fsver.String,
		PTType:      pttype.String,
		PTUUID:      ptuuid.String,
		PartUUID:    partuuid.String,
		WWN:         wwn.String,
		RawJSON:     rawJSON.String,
		RefreshedAt: timeFromNull(identityAt),
	}
	return record, nil
}
