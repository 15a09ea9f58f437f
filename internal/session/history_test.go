package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/drift/internal/quota"
	"github.com/goodtune/drift/internal/storage"
)

func TestCheckCooldownAllowsFirstSession(t *testing.T) {
	store := newTestStore(t)
	clock := &quota.TestClock{CurrentTime: time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)}

	if err := CheckCooldown(context.Background(), store.History(), 4*time.Hour, clock); err != nil {
		t.Errorf("Expected no cooldown with empty history, got %v", err)
	}
}

func TestCheckCooldownBlocksRecentSession(t *testing.T) {
	store := newTestStore(t)
	clock := &quota.TestClock{CurrentTime: time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)}

	record := storage.HistoryRecord{
		SessionID: "previous",
		Status:    storage.StatusCompleted,
		StartedAt: clock.CurrentTime.Add(-2 * time.Hour),
		EndedAt:   clock.CurrentTime.Add(-1 * time.Hour),
	}
	if err := store.History().Append(context.Background(), record, 10); err != nil {
		t.Fatalf("Failed to append history: %v", err)
	}

	err := CheckCooldown(context.Background(), store.History(), 4*time.Hour, clock)
	if !errors.Is(err, ErrCooldownActive) {
		t.Errorf("Expected ErrCooldownActive, got %v", err)
	}

	// Once the interval has passed the guard clears.
	clock.CurrentTime = clock.CurrentTime.Add(4 * time.Hour)
	if err := CheckCooldown(context.Background(), store.History(), 4*time.Hour, clock); err != nil {
		t.Errorf("Expected cooldown expired, got %v", err)
	}
}

func TestCheckCooldownDisabledByZeroInterval(t *testing.T) {
	store := newTestStore(t)
	if err := CheckCooldown(context.Background(), store.History(), 0, nil); err != nil {
		t.Errorf("Expected zero interval to disable the guard, got %v", err)
	}
}
