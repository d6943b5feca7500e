package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"diskwatch/internal/catalog"
	"diskwatch/internal/identity"
	"diskwatch/internal/jobs"
	"diskwatch/internal/logging"
	"diskwatch/internal/scanner"
	"diskwatch/internal/testsupport"
	"diskwatch/internal/watcher"
)

type unavailableProber struct{}

func (unavailableProber) ProbeMount(context.Context, string) (identity.MountInfo, error) {
	return identity.MountInfo{}, errors.New("findmnt unavailable")
}

func (unavailableProber) ProbeBlockDevice(context.Context, string) (map[string]string, error) {
	return nil, errors.New("lsblk unavailable")
}

type testLoop struct {
	loop   *Loop
	store  *catalog.Store
	mounts []string
}

func newTestLoop(t *testing.T) *testLoop {
	return newTestLoopWithCatalog(t, nil)
}

// newTestLoopWithCatalog lets a test interpose on the scanner's store writes,
// for example to hold a scan mid-walk.
func newTestLoopWithCatalog(t *testing.T, wrap func(*catalog.Store) scanner.Catalog) *testLoop {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tracker := jobs.NewTracker(store, logging.NewNop())
	var scanCatalog scanner.Catalog = store
	if wrap != nil {
		scanCatalog = wrap(store)
	}
	scan := scanner.New(cfg, scanCatalog, tracker, logging.NewNop())
	pool := scanner.NewPool(scan, tracker, logging.NewNop(), cfg.Scan.MaxWorkers)
	watch := watcher.New(store, tracker, logging.NewNop())
	resolver := identity.NewResolverWithProber(logging.NewNop(), unavailableProber{})

	tl := &testLoop{store: store}
	tl.loop = NewLoop(cfg, store, resolver, pool, watch, tracker, logging.NewNop())
	tl.loop.mountPoints = func([]string) ([]string, error) {
		return append([]string(nil), tl.mounts...), nil
	}
	return tl
}

func makeMount(t *testing.T, name string) string {
	t.Helper()
	mount := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(mount, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", mount, err)
	}
	if err := os.WriteFile(filepath.Join(mount, "existing.bin"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return mount
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
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

func TestTickAttachesNewMount(t *testing.T) {
	tl := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		tl.loop.shutdown()
	}()

	mount := makeMount(t, "usb")
	tl.mounts = []string{mount}
	tl.loop.tick(ctx)

	// With all probes unavailable the volume id falls back to the directory.
	volume, err := tl.store.GetVolume(context.Background(), mount)
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if volume == nil {
		t.Fatal("volume identity not saved on attach")
	}

	watching := tl.loop.Watching()
	if watching[mount] != mount {
		t.Fatalf("Watching() = %v, want %s tracked", watching, mount)
	}

	// Auto scan catalogs the pre-existing file.
	waitForCondition(t, "scan completion", func() bool {
		jobList, err := tl.store.ListJobs(context.Background(), catalog.JobCompleted)
		return err == nil && len(jobList) == 1 && jobList[0].Type == catalog.JobTypeScan
	})
	waitForCondition(t, "cataloged file", func() bool {
		files, err := tl.store.ListFiles(context.Background(), mount, 0)
		return err == nil && len(files) == 1
	})
}

func TestTickIsIdempotent(t *testing.T) {
	tl := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		tl.loop.shutdown()
	}()

	mount := makeMount(t, "usb")
	tl.mounts = []string{mount}
	tl.loop.tick(ctx)
	waitForCondition(t, "first scan completion", func() bool {
		jobList, err := tl.store.ListJobs(context.Background(), catalog.JobCompleted)
		return err == nil && len(jobList) == 1
	})

	tl.loop.tick(ctx)
	tl.loop.tick(ctx)

	active, err := tl.store.ActiveJobs(context.Background())
	if err != nil {
		t.Fatalf("ActiveJobs: %v", err)
	}
	if len(active) != 1 || active[0].Type != catalog.JobTypeWatch {
		t.Fatalf("active jobs = %+v, want exactly the original watch", active)
	}
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

func TestTickDetachStopsInFlightScan(t *testing.T) {
	gate := &gatedCatalog{entered: make(chan struct{}), release: make(chan struct{})}
	tl := newTestLoopWithCatalog(t, func(store *catalog.Store) scanner.Catalog {
		gate.Store = store
		return gate
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		tl.loop.shutdown()
	}()

	mount := makeMount(t, "usb")
	tl.mounts = []string{mount}
	tl.loop.tick(ctx)

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scan never reached the store")
	}

	// The mount vanishes while the scan is mid-walk.
	tl.mounts = nil
	tl.loop.tick(ctx)
	close(gate.release)

	waitForCondition(t, "scan stopped", func() bool {
		jobList, err := tl.store.ListJobs(context.Background(), catalog.JobStopped)
		if err != nil {
			return false
		}
		for _, job := range jobList {
			if job.Type == catalog.JobTypeScan {
				return true
			}
		}
		return false
	})
}

func TestTickDetachesVanishedMount(t *testing.T) {
	tl := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		tl.loop.shutdown()
	}()

	mount := makeMount(t, "usb")
	tl.mounts = []string{mount}
	tl.loop.tick(ctx)
	waitForCondition(t, "watch running", func() bool {
		jobList, err := tl.store.ListJobs(context.Background(), catalog.JobRunning)
		if err != nil {
			return false
		}
		for _, job := range jobList {
			if job.Type == catalog.JobTypeWatch {
				return true
			}
		}
		return false
	})

	tl.mounts = nil
	tl.loop.tick(ctx)

	waitForCondition(t, "watch stopped", func() bool {
		jobList, err := tl.store.ListJobs(context.Background(), catalog.JobStopped)
		if err != nil {
			return false
		}
		for _, job := range jobList {
			if job.Type == catalog.JobTypeWatch {
				return true
			}
		}
		return false
	})
	if len(tl.loop.Watching()) != 0 {
		t.Fatalf("Watching() = %v, want empty after detach", tl.loop.Watching())
	}
}
