package dedup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goodtune/drift/internal/storage"
	"github.com/goodtune/drift/internal/storage/bolt"
	"github.com/rs/zerolog"
)

const kindLike = storage.ActionKind("like")

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "drift.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSeenAfterRecord(t *testing.T) {
	store := newTestStore(t)
	tracker, err := NewTracker(store.Dedup(), 10, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	if tracker.Seen(kindLike, "t1") {
		t.Error("Expected t1 unseen before recording")
	}
	if err := tracker.Record(context.Background(), kindLike, "t1"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !tracker.Seen(kindLike, "t1") {
		t.Error("Expected t1 seen after recording")
	}
	if tracker.Seen(storage.ActionKind("follow"), "t1") {
		t.Error("Expected per-kind isolation")
	}
}

func TestRecordPersistsAcrossTrackers(t *testing.T) {
	store := newTestStore(t)
	t1, err := NewTracker(store.Dedup(), 10, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	if err := t1.Record(context.Background(), kindLike, "t1"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	t2, err := NewTracker(store.Dedup(), 10, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	if err := t2.Load(context.Background(), []storage.ActionKind{kindLike}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !t2.Seen(kindLike, "t1") {
		t.Error("Expected a fresh tracker to see the persisted target")
	}
}

func TestCapEvictsOldestFirst(t *testing.T) {
	store := newTestStore(t)
	tracker, err := NewTracker(store.Dedup(), 3, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := tracker.Record(context.Background(), kindLike, id); err != nil {
			t.Fatalf("Record %s failed: %v", id, err)
		}
	}

	if tracker.Seen(kindLike, "a") {
		t.Error("Expected oldest target evicted past the cap")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !tracker.Seen(kindLike, id) {
			t.Errorf("Expected %s retained", id)
		}
	}
	if tracker.Size(kindLike) != 3 {
		t.Errorf("Expected size 3 at cap, got %d", tracker.Size(kindLike))
	}

	// The persisted set matches, oldest first.
	set, err := store.Dedup().Get(context.Background(), kindLike)
	if err != nil {
		t.Fatalf("Failed to load persisted set: %v", err)
	}
	if len(set.Targets) != 3 || set.Targets[0] != "b" || set.Targets[2] != "d" {
		t.Errorf("Expected persisted [b c d], got %v", set.Targets)
	}
}

func TestZeroCapRejected(t *testing.T) {
	store := newTestStore(t)
	if _, err := NewTracker(store.Dedup(), 0, zerolog.Nop()); err == nil {
		t.Error("Expected an error for a zero cap")
	}
}
