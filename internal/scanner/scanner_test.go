package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
	"diskwatch/internal/testsupport"
)

// busyCatalog reports the busy sentinel for one path's event write.
type busyCatalog struct {
	*catalog.Store
	failPath string
}

func (c *busyCatalog) RecordEvent(ctx context.Context, event catalog.Event) (int64, error) {
	if event.Path == c.failPath {
		return 0, fmt.Errorf("%w: database is locked (5) (SQLITE_BUSY)", catalog.ErrStoreBusy)
	}
	return c.Store.RecordEvent(ctx, event)
}

// gatedCatalog blocks every event write until released, and signals once the
// first write has been reached.
type gatedCatalog struct {
	*catalog.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCatalog) RecordEvent(ctx context.Context, event catalog.Event) (int64, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Store.RecordEvent(ctx, event)
}

func newTestScanner(t *testing.T, opts ...testsupport.ConfigOption) (*Scanner, *jobs.Tracker, *catalog.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	tracker := jobs.NewTracker(store, logging.NewNop())
	return New(cfg, store, tracker, logging.NewNop()), tracker, store, cfg
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanCatalogsTree(t *testing.T) {
	scanner, tracker, store, _ := newTestScanner(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "movies", "film.mkv"), "data")
	writeFile(t, filepath.Join(root, "movies", "notes.txt"), "notes")
	writeFile(t, filepath.Join(root, "music", "song.flac"), "audio")
	writeFile(t, filepath.Join(root, ".DS_Store"), "junk")
	writeFile(t, filepath.Join(root, "movies", "partial.tmp"), "junk")

	job, err := tracker.Start(ctx, catalog.JobTypeScan, "uuid=abc", root)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := scanner.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stored, err := store.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != catalog.JobCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.Progress == nil || stored.Progress.FilesProcessed != 5 {
		t.Fatalf("progress = %+v, want 5 files", stored.Progress)
	}

	files, err := store.ListFiles(ctx, "uuid=abc", 0)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("cataloged %d file rows, want 3 (transient names skipped)", len(files))
	}
	for _, f := range files {
		if f.LastEventType != catalog.EventDiscovered {
			t.Fatalf("file %s last event = %s, want discovered", f.Path, f.LastEventType)
		}
		if f.SizeBytes <= 0 {
			t.Fatalf("file %s has no size", f.Path)
		}
	}

	count, err := store.CountEvents(ctx, "uuid=abc")
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if count != 5 {
		t.Fatalf("event count = %d, want one discovered event per file", count)
	}
}

func TestScanRerunIsIdempotentForFiles(t *testing.T) {
	scanner, tracker, store, _ := newTestScanner(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "doc.pdf"), "data")

	for i := 0; i < 2; i++ {
		job, err := tracker.Start(ctx, catalog.JobTypeScan, "uuid=abc", root)
		if err != nil {
			t.Fatalf("Start pass %d: %v", i, err)
		}
		if err := scanner.Run(ctx, job); err != nil {
			t.Fatalf("Run pass %d: %v", i, err)
		}
	}

	files, err := store.ListFiles(ctx, "uuid=abc", 0)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("file rows = %d, want 1 after rescan", len(files))
	}
	count, err := store.CountEvents(ctx, "uuid=abc")
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if count != 2 {
		t.Fatalf("event count = %d, want one discovered event per pass", count)
	}
}

func TestScanSurvivesDroppedWrites(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tracker := jobs.NewTracker(store, logging.NewNop())
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.bin"), "data")
	writeFile(t, filepath.Join(root, "b.bin"), "data")
	writeFile(t, filepath.Join(root, "c.bin"), "data")

	busy := &busyCatalog{Store: store, failPath: filepath.Join(root, "b.bin")}
	scanner := New(cfg, busy, tracker, logging.NewNop())

	job, err := tracker.Start(ctx, catalog.JobTypeScan, "uuid=abc", root)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := scanner.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stored, err := store.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != catalog.JobCompleted {
		t.Fatalf("status = %s, want completed despite the dropped write", stored.Status)
	}
	if stored.Progress == nil || stored.Progress.FilesProcessed != 2 {
		t.Fatalf("progress = %+v, want 2 recorded files", stored.Progress)
	}

	files, err := store.ListFiles(ctx, "uuid=abc", 0)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("file rows = %d, want the walk to continue past the drop", len(files))
	}
}

func TestScanMissingRootFailsJob(t *testing.T) {
	scanner, tracker, store, _ := newTestScanner(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "gone")
	job, err := tracker.Start(ctx, catalog.JobTypeScan, "uuid=abc", root)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := scanner.Run(ctx, job); err == nil {
		t.Fatal("Run succeeded on a missing root")
	}

	stored, err := store.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != catalog.JobFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Fatal("failed job has no error message")
	}
}

func TestScanCancellationStopsJob(t *testing.T) {
	scanner, tracker, store, _ := newTestScanner(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "doc.pdf"), "data")

	job, err := tracker.Start(context.Background(), catalog.JobTypeScan, "uuid=abc", root)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := scanner.Run(ctx, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}

	stored, err := store.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != catalog.JobStopped {
		t.Fatalf("status = %s, want stopped", stored.Status)
	}
}

func TestPoolRejectsDuplicateVolume(t *testing.T) {
	scanner, tracker, _, _ := newTestScanner(t, testsupport.WithScanWorkers(1))
	pool := NewPool(scanner, tracker, logging.NewNop(), 1)
	ctx := context.Background()

	root := t.TempDir()
	// Register an active job for the volume directly so the duplicate check
	// does not depend on scan timing.
	if _, err := tracker.Start(ctx, catalog.JobTypeScan, "uuid=abc", root); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := pool.Enqueue(ctx, "uuid=abc", root); !errors.Is(err, catalog.ErrJobConflict) {
		t.Fatalf("Enqueue err = %v, want ErrJobConflict", err)
	}
	pool.Wait()
}

func TestPoolHoldsSecondScanPendingUntilSlotFrees(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScanWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	tracker := jobs.NewTracker(store, logging.NewNop())
	gate := &gatedCatalog{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	scanner := New(cfg, gate, tracker, logging.NewNop())
	pool := NewPool(scanner, tracker, logging.NewNop(), 1)
	ctx := context.Background()

	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "a.bin"), "data")
	writeFile(t, filepath.Join(rootB, "b.bin"), "data")

	jobA, err := pool.Enqueue(ctx, "uuid=a", rootA)
	if err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first scan never reached the store")
	}

	jobB, err := pool.Enqueue(ctx, "uuid=b", rootB)
	if err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}

	// The single worker slot is held by the first scan, so the second job
	// must still be pending while the first is running.
	storedA, err := store.GetJob(ctx, jobA.JobID)
	if err != nil {
		t.Fatalf("GetJob a: %v", err)
	}
	if storedA.Status != catalog.JobRunning {
		t.Fatalf("first job status = %s, want running", storedA.Status)
	}
	storedB, err := store.GetJob(ctx, jobB.JobID)
	if err != nil {
		t.Fatalf("GetJob b: %v", err)
	}
	if storedB.Status != catalog.JobPending {
		t.Fatalf("second job status = %s, want pending while the slot is held", storedB.Status)
	}

	close(gate.release)
	pool.Wait()

	for _, id := range []string{jobA.JobID, jobB.JobID} {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob %s: %v", id, err)
		}
		if job.Status != catalog.JobCompleted {
			t.Fatalf("job %s status = %s, want completed", id, job.Status)
		}
	}
}

func TestPoolRunsQueuedScansToCompletion(t *testing.T) {
	scanner, tracker, store, _ := newTestScanner(t, testsupport.WithScanWorkers(1))
	pool := NewPool(scanner, tracker, logging.NewNop(), 1)
	ctx := context.Background()

	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "a.bin"), "data")
	writeFile(t, filepath.Join(rootB, "b.bin"), "data")

	jobA, err := pool.Enqueue(ctx, "uuid=a", rootA)
	if err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	jobB, err := pool.Enqueue(ctx, "uuid=b", rootB)
	if err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}
	pool.Wait()

	for _, id := range []string{jobA.JobID, jobB.JobID} {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob %s: %v", id, err)
		}
		if job.Status != catalog.JobCompleted {
			t.Fatalf("job %s status = %s, want completed", id, job.Status)
		}
	}
}
