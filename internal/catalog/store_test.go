package catalog_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"diskwatch/internal/catalog"
	"diskwatch/internal/testsupport"
)

func TestRecordEventCreatesVolumeAndCounters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id, err := store.RecordEvent(ctx, catalog.Event{
		Type:      catalog.EventCreated,
		Path:      "/mnt/x/a.txt",
		Directory: "/mnt/x",
		VolumeID:  "V1",
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero event id")
	}

	volume, err := store.GetVolume(ctx, "V1")
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if volume == nil {
		t.Fatal("expected volume row created alongside first event")
	}
	if volume.EventCount != 1 || volume.CreatedCount != 1 {
		t.Fatalf("unexpected counters: %+v", volume)
	}
	if volume.Directory != "/mnt/x" {
		t.Fatalf("unexpected volume directory %q", volume.Directory)
	}
}

func TestCheckSchemaReportsState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if err := store.CheckSchema(); err != nil {
		t.Fatalf("CheckSchema after Open: %v", err)
	}

	// Flag the migration state dirty the way an interrupted migration would.
	db, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatalf("mark schema dirty: %v", err)
	}

	if err := store.CheckSchema(); err == nil {
		t.Fatal("expected dirty schema to be reported")
	}
}

func TestVolumeCountersReconcileWithEventLog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	types := []catalog.EventType{
		catalog.EventCreated,
		catalog.EventModified,
		catalog.EventModified,
		catalog.EventDeleted,
		catalog.EventDiscovered,
	}
	for i, eventType := range types {
		testsupport.RecordEvent(t, store, eventType, "V1", "/mnt/x", fmt.Sprintf("/mnt/x/f%d", i))
	}

	volume, err := store.GetVolume(ctx, "V1")
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	logged, err := store.CountEvents(ctx, "V1")
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if volume.EventCount != logged {
		t.Fatalf("event_count %d does not match event log %d", volume.EventCount, logged)
	}
	other := volume.EventCount - volume.CreatedCount - volume.ModifiedCount - volume.DeletedCount
	if volume.CreatedCount != 1 || volume.ModifiedCount != 2 || volume.DeletedCount != 1 || other != 1 {
		t.Fatalf("counters do not reconcile: %+v", volume)
	}
}

func TestSummarizeByVolumeScenario(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, eventType := range []catalog.EventType{catalog.EventCreated, catalog.EventModified, catalog.EventDeleted} {
		testsupport.RecordEvent(t, store, eventType, "V1", "/mnt/x", "/mnt/x/a.txt")
	}

	summaries, err := store.SummarizeByVolume(ctx)
	if err != nil {
		t.Fatalf("SummarizeByVolume: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	summary := summaries[0]
	if summary.VolumeID != "V1" || summary.Total != 3 || summary.Created != 1 || summary.Modified != 1 || summary.Deleted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestDeleteKeepsFileRowAndMetadata(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	modified := time.Now().UTC().Add(-time.Hour)
	if err := store.UpsertFile(ctx, catalog.FileRecord{
		VolumeID:           "V1",
		Path:               "/mnt/x/a.txt",
		Directory:          "/mnt/x",
		SizeBytes:          4096,
		ModifiedTime:       modified,
		CreatedTime:        modified,
		LastEventTimestamp: time.Now().UTC(),
		LastEventType:      catalog.EventCreated,
	}); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	if err := store.MarkFileDeleted(ctx, "V1", "/mnt/x/a.txt", catalog.Event{
		Timestamp: time.Now().UTC(),
		Type:      catalog.EventDeleted,
	}); err != nil {
		t.Fatalf("MarkFileDeleted: %v", err)
	}

	record, err := store.GetFile(ctx, "V1", "/mnt/x/a.txt")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if record == nil {
		t.Fatal("delete must not remove the file row")
	}
	if !record.IsDeleted {
		t.Fatal("expected is_deleted set")
	}
	if record.SizeBytes != 4096 {
		t.Fatalf("expected prior size retained, got %d", record.SizeBytes)
	}
	if record.ModifiedTime.IsZero() {
		t.Fatal("expected prior modified time retained")
	}
	if record.LastEventType != catalog.EventDeleted {
		t.Fatalf("unexpected last event type %q", record.LastEventType)
	}
}

func TestUpsertFileIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := catalog.FileRecord{
		VolumeID:           "V1",
		Path:               "/mnt/x/a.txt",
		Directory:          "/mnt/x",
		SizeBytes:          128,
		ModifiedTime:       time.Now().UTC().Truncate(time.Second),
		CreatedTime:        time.Now().UTC().Truncate(time.Second),
		LastEventTimestamp: time.Now().UTC().Truncate(time.Second),
		LastEventType:      catalog.EventDiscovered,
	}
	for i := 0; i < 3; i++ {
		if err := store.UpsertFile(ctx, record); err != nil {
			t.Fatalf("UpsertFile #%d: %v", i, err)
		}
	}

	files, err := store.ListFiles(ctx, "V1", 10)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one row after repeated upserts, got %d", len(files))
	}
	got := files[0]
	if got.SizeBytes != record.SizeBytes || got.IsDeleted {
		t.Fatalf("unexpected row after re-upsert: %+v", got)
	}
	if !got.ModifiedTime.Equal(record.ModifiedTime) {
		t.Fatalf("modified time drifted: %v vs %v", got.ModifiedTime, record.ModifiedTime)
	}
}

func TestUpsertFileObservesIgnoreRules(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, path := range []string{"/mnt/x/.DS_Store", "/mnt/x/doc.tmp", "/mnt/x/backup~"} {
		if err := store.UpsertFile(ctx, catalog.FileRecord{
			VolumeID:      "V1",
			Path:          path,
			Directory:     "/mnt/x",
			LastEventType: catalog.EventCreated,
		}); err != nil {
			t.Fatalf("UpsertFile(%s): %v", path, err)
		}
	}

	files, err := store.ListFiles(ctx, "V1", 10)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected ignored paths to produce no file rows, got %d", len(files))
	}
}

func TestUsageRefreshHeuristic(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithUsageThresholds(3, 3600))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	probes := 0
	store.SetUsageProbe(func(directory string) (int64, int64, int64, error) {
		probes++
		return 1000, 400, 600, nil
	})

	// First event creates the volume with no snapshot, so a probe fires.
	testsupport.RecordEvent(t, store, catalog.EventCreated, "V1", "/mnt/x", "/mnt/x/f0")
	if probes != 1 {
		t.Fatalf("expected initial probe, got %d", probes)
	}

	// Counter resets on refresh, so the next two events stay under threshold.
	testsupport.RecordEvent(t, store, catalog.EventModified, "V1", "/mnt/x", "/mnt/x/f1")
	testsupport.RecordEvent(t, store, catalog.EventModified, "V1", "/mnt/x", "/mnt/x/f2")
	if probes != 1 {
		t.Fatalf("expected no probe under threshold, got %d", probes)
	}

	// Third event since refresh crosses the threshold.
	testsupport.RecordEvent(t, store, catalog.EventModified, "V1", "/mnt/x", "/mnt/x/f3")
	if probes != 2 {
		t.Fatalf("expected threshold probe, got %d", probes)
	}

	volume, err := store.GetVolume(ctx, "V1")
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if volume.Usage.TotalBytes != 1000 || volume.Usage.FreeBytes != 600 {
		t.Fatalf("usage snapshot not persisted: %+v", volume.Usage)
	}
	if volume.EventsSinceRefresh != 0 {
		t.Fatalf("expected counter reset after refresh, got %d", volume.EventsSinceRefresh)
	}
}

func TestSaveVolumeIdentityRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	identity := catalog.VolumeIdentitySnapshot{
		MountDevice: "/dev/sdb1",
		MountPoint:  "/mnt/x",
		MountUUID:   "ABCD-1234",
		MountLabel:  "BACKUP",
		Model:       "Ultra Fit",
		Serial:      "S123",
		Vendor:      "SanDisk",
		PartUUID:    "cafe0001-01",
		RawJSON:     `{"NAME":"sdb1"}`,
	}
	if err := store.SaveVolumeIdentity(ctx, "V1", "/mnt/x", identity); err != nil {
		t.Fatalf("SaveVolumeIdentity: %v", err)
	}

	volume, err := store.GetVolume(ctx, "V1")
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if volume == nil {
		t.Fatal("expected volume row")
	}
	got := volume.Identity
	if got.MountUUID != identity.MountUUID || got.Serial != identity.Serial || got.RawJSON != identity.RawJSON {
		t.Fatalf("identity snapshot mismatch: %+v", got)
	}
	if got.RefreshedAt.IsZero() {
		t.Fatal("expected identity_refreshed_at set")
	}
}

func TestListEventsSinceCursor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, testsupport.RecordEvent(t, store, catalog.EventCreated, "V1", "/mnt/x", fmt.Sprintf("/mnt/x/f%d", i)))
	}

	events, err := store.ListEventsSince(ctx, ids[1], 10)
	if err != nil {
		t.Fatalf("ListEventsSince: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after cursor, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatal("expected ascending id order")
		}
	}
}

func TestSummarizeFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.RecordEvent(t, store, catalog.EventCreated, "V1", "/mnt/x", "/mnt/x/a.txt")
	testsupport.RecordEvent(t, store, catalog.EventModified, "V1", "/mnt/x", "/mnt/x/a.txt")
	testsupport.RecordEvent(t, store, catalog.EventCreated, "V1", "/mnt/x", "/mnt/x/b.txt")

	activities, err := store.SummarizeFiles(ctx, 10)
	if err != nil {
		t.Fatalf("SummarizeFiles: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("expected two file activity rows, got %d", len(activities))
	}
	for _, activity := range activities {
		if activity.Path == "/mnt/x/a.txt" {
			if activity.TotalEvents != 2 || activity.LastEventType != catalog.EventModified {
				t.Fatalf("unexpected activity for a.txt: %+v", activity)
			}
		}
	}
}
