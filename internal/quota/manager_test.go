package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func testClock() *TestClock {
	return &TestClock{CurrentTime: time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)}
}

func reserveN(t *testing.T, m *Manager, kind storage.ActionKind, n int) int {
	t.Helper()
	granted := 0
	for i := 0; i < n; i++ {
		ok, err := m.TryReserve(context.Background(), kind)
		if err != nil {
			t.Fatalf("TryReserve failed: %v", err)
		}
		if ok {
			granted++
		}
	}
	return granted
}

func TestTryReserveEnforcesSessionCap(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store.Quotas(),
		map[storage.ActionKind]int{kindLike: 3},
		map[storage.ActionKind]int{kindLike: 100},
		testClock(), zerolog.Nop())

	if granted := reserveN(t, m, kindLike, 5); granted != 3 {
		t.Errorf("Expected 3 grants at session cap, got %d", granted)
	}
	if m.Counts()[kindLike] != 3 {
		t.Errorf("Expected session count 3, got %d", m.Counts()[kindLike])
	}
}

func TestDailyCapPersistsAcrossManagers(t *testing.T) {
	store := newTestStore(t)
	clock := testClock()
	sessionCaps := map[storage.ActionKind]int{kindLike: 10}
	dailyCaps := map[storage.ActionKind]int{kindLike: 4}

	m1 := NewManager(store.Quotas(), sessionCaps, dailyCaps, clock, zerolog.Nop())
	if granted := reserveN(t, m1, kindLike, 3); granted != 3 {
		t.Fatalf("Expected 3 grants, got %d", granted)
	}

	// A second session the same day only gets the remainder.
	m2 := NewManager(store.Quotas(), sessionCaps, dailyCaps, clock, zerolog.Nop())
	if granted := reserveN(t, m2, kindLike, 3); granted != 1 {
		t.Errorf("Expected 1 grant from remaining daily quota, got %d", granted)
	}
}

func TestDayRolloverResetsDailyCount(t *testing.T) {
	store := newTestStore(t)
	clock := testClock()
	m := NewManager(store.Quotas(),
		map[storage.ActionKind]int{kindLike: 10},
		map[storage.ActionKind]int{kindLike: 2},
		clock, zerolog.Nop())

	if granted := reserveN(t, m, kindLike, 3); granted != 2 {
		t.Fatalf("Expected daily cap to stop at 2, got %d", granted)
	}

	clock.CurrentTime = clock.CurrentTime.Add(24 * time.Hour)

	count, err := m.DailyCount(context.Background(), kindLike)
	if err != nil {
		t.Fatalf("DailyCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected fresh daily count after rollover, got %d", count)
	}
	if granted := reserveN(t, m, kindLike, 1); granted != 1 {
		t.Errorf("Expected a grant after rollover, got %d", granted)
	}
}

func TestUnknownKindIsNeverReserved(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store.Quotas(),
		map[storage.ActionKind]int{kindLike: 3},
		map[storage.ActionKind]int{kindLike: 3},
		testClock(), zerolog.Nop())

	ok, err := m.TryReserve(context.Background(), storage.ActionKind("follow"))
	if err != nil {
		t.Fatalf("TryReserve failed: %v", err)
	}
	if ok {
		t.Error("Expected a kind with no configured cap to be refused")
	}
}

func TestSetCountsRestoresSessionCounters(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store.Quotas(),
		map[storage.ActionKind]int{kindLike: 3},
		map[storage.ActionKind]int{kindLike: 100},
		testClock(), zerolog.Nop())

	m.SetCounts(map[storage.ActionKind]int{kindLike: 2})
	if granted := reserveN(t, m, kindLike, 3); granted != 1 {
		t.Errorf("Expected 1 grant after restoring count 2 of 3, got %d", granted)
	}
}
