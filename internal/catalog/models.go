package catalog

import (
	"path/filepath"
	"strings"
	"time"
)

// EventType classifies a catalog event.
type EventType string

const (
	EventCreated    EventType = "created"
	EventModified   EventType = "modified"
	EventDeleted    EventType = "deleted"
	EventDiscovered EventType = "discovered"
)

// Event is one immutable row in the append-only event log.
type Event struct {
	ID        int64
	Timestamp time.Time
	Type      EventType
	Path      string
	Directory string
	VolumeID  string
	ProcessID string
}

// FileRecord is the latest known state of one file on one volume.
type FileRecord struct {
	VolumeID           string
	Path               string
	Directory          string
	SizeBytes          int64
	ModifiedTime       time.Time
	CreatedTime        time.Time
	LastEventTimestamp time.Time
	LastEventType      EventType
	IsDeleted          bool
}

// FileActivity aggregates the event history of one file.
type FileActivity struct {
	Path          string
	VolumeID      string
	Directory     string
	TotalEvents   int64
	FirstSeen     time.Time
	LastSeen      time.Time
	LastEventType EventType
}

// VolumeIdentitySnapshot carries the persisted hardware identity of a volume.
type VolumeIdentitySnapshot struct {
	MountDevice string
	MountPoint  string
	MountUUID   string
	MountLabel  string
	Model       string
	Serial      string
	Vendor      string
	FSVersion   string
	PTType      string
	PTUUID      string
	PartUUID    string
	WWN         string
	RawJSON     string
	RefreshedAt time.Time
}

// UsageSnapshot is a point-in-time disk usage reading for a volume.
type UsageSnapshot struct {
	TotalBytes  int64
	UsedBytes   int64
	FreeBytes   int64
	RefreshedAt time.Time
}

// VolumeRecord is one row of the volumes table.
type VolumeRecord struct {
	VolumeID           string
	Directory          string
	EventCount         int64
	CreatedCount       int64
	ModifiedCount      int64
	DeletedCount       int64
	LastEventTimestamp time.Time
	Usage              UsageSnapshot
	EventsSinceRefresh int64
	Identity           VolumeIdentitySnapshot
}

// VolumeSummary is the aggregation produced by SummarizeByVolume.
type VolumeSummary struct {
	VolumeID  string
	Directory string
	Total     int64
	Created   int64
	Modified  int64
	Deleted   int64
	FirstSeen time.Time
	LastSeen  time.Time
	Usage     UsageSnapshot
}

// IgnoreRules filters transient files out of the files table. Events for
// ignored paths are still recorded; only the file row is skipped.
type IgnoreRules struct {
	Suffixes []string
	Names    []string
}

// Ignores reports whether a path's base name matches the rules.
func (r IgnoreRules) Ignores(path string) bool {
	name := filepath.Base(path)
	for _, ignored := range r.Names {
		if name == ignored {
			return true
		}
	}
	for _, suffix := range r.Suffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
