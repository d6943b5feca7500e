package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"diskwatch/internal/catalog"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
	"diskwatch/internal/testsupport"
)

func newTestWatcher(t *testing.T) (*Watcher, *jobs.Tracker, *catalog.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tracker := jobs.NewTracker(store, logging.NewNop())
	return New(store, tracker, logging.NewNop()), tracker, store
}

func startWatch(t *testing.T, w *Watcher, tracker *jobs.Tracker, store *catalog.Store, volumeID, root string) (*catalog.Job, context.CancelFunc, chan error) {
	t.Helper()
	job, err := tracker.Start(context.Background(), catalog.JobTypeWatch, volumeID, root)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, job)
	}()

	waitFor(t, "job running", func() bool {
		current, err := store.GetJob(context.Background(), job.JobID)
		return err == nil && current.Status == catalog.JobRunning
	})
	return job, cancel, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatchRecordsCreateModifyDelete(t *testing.T) {
	w, tracker, store := newTestWatcher(t)
	root := t.TempDir()
	job, cancel, done := startWatch(t, w, tracker, store, "uuid=abc", root)

	target := filepath.Join(root, "report.pdf")
	if err := os.WriteFile(target, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "created file row", func() bool {
		file, err := store.GetFile(context.Background(), "uuid=abc", target)
		return err == nil && file != nil && !file.IsDeleted
	})

	if err := os.WriteFile(target, []byte("version two"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	waitFor(t, "modified file row", func() bool {
		file, err := store.GetFile(context.Background(), "uuid=abc", target)
		return err == nil && file != nil && file.LastEventType == catalog.EventModified &&
			file.SizeBytes == int64(len("version two"))
	})

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, "deleted file row", func() bool {
		file, err := store.GetFile(context.Background(), "uuid=abc", target)
		return err == nil && file != nil && file.IsDeleted
	})

	// Deletion keeps the last observed metadata queryable.
	file, err := store.GetFile(context.Background(), "uuid=abc", target)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if file.SizeBytes != int64(len("version two")) {
		t.Fatalf("deleted file size = %d, want last known size", file.SizeBytes)
	}
	if file.ModifiedTime.IsZero() {
		t.Fatal("deleted file lost its modified time")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
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

func TestWatchCoversDirectoriesCreatedLive(t *testing.T) {
	w, tracker, store := newTestWatcher(t)
	root := t.TempDir()
	_, cancel, done := startWatch(t, w, tracker, store, "uuid=abc", root)
	defer func() {
		cancel()
		<-done
	}()

	nested := filepath.Join(root, "incoming", "batch")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	target := filepath.Join(nested, "photo.jpg")
	// Give the new directory's watch a moment to register before writing.
	waitFor(t, "nested watch", func() bool {
		probe := filepath.Join(nested, "probe.bin")
		if err := os.WriteFile(probe, []byte("x"), 0o644); err != nil {
			return false
		}
		file, err := store.GetFile(context.Background(), "uuid=abc", probe)
		return err == nil && file != nil
	})

	if err := os.WriteFile(target, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write nested: %v", err)
	}
	waitFor(t, "nested file row", func() bool {
		file, err := store.GetFile(context.Background(), "uuid=abc", target)
		return err == nil && file != nil && file.LastEventType == catalog.EventCreated
	})
}

func TestWatchRootRemovalStopsJob(t *testing.T) {
	w, tracker, store := newTestWatcher(t)
	base := t.TempDir()
	root := filepath.Join(base, "mount")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	job, cancel, done := startWatch(t, w, tracker, store, "uuid=abc", root)
	defer cancel()

	if err := os.RemoveAll(root); err != nil {
		t.Fatalf("remove root: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err = %v, want nil for vanished root", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after root removal")
	}

	stored, err := store.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != catalog.JobStopped {
		t.Fatalf("status = %s, want stopped", stored.Status)
	}
}
