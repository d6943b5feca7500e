package testsupport

import (
	"context"
	"testing"
	"time"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecordEvent appends an event for tests using the provided store.
func RecordEvent(t testing.TB, store *catalog.Store, eventType catalog.EventType, volumeID, directory, path string) int64 {
	t.Helper()

	id, err := store.RecordEvent(context.Background(), catalog.Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Path:      path,
		Directory: directory,
		VolumeID:  volumeID,
	})
	if err != nil {
		t.Fatalf("store.RecordEvent: %v", err)
	}
	return id
}
