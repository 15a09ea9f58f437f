package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/drift/internal/quota"
	"github.com/goodtune/drift/internal/storage"
)

// ErrCooldownActive is returned when the previous session ended too
// recently for a new one to start.
var ErrCooldownActive = errors.New("session: inter-session cooldown active")

// CheckCooldown inspects the most recent history record and refuses a new
// session that would start within minInterval of the previous one ending.
// This is a guard against accidental back-to-back runs, not a scheduler
// invariant; callers may offer an override.
func CheckCooldown(ctx context.Context, history storage.HistoryStore, minInterval time.Duration, clock quota.Clock) error {
	if minInterval <= 0 {
		return nil
	}
	if clock == nil {
		clock = quota.RealClock{}
	}

	latest, err := history.Latest(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load latest history record: %w", err)
	}

	elapsed := clock.Now().Sub(latest.EndedAt)
	if elapsed < minInterval {
		return fmt.Errorf("%w: last session ended %s ago, minimum interval is %s",
			ErrCooldownActive, elapsed.Round(time.Second), minInterval)
	}
	return nil
}
