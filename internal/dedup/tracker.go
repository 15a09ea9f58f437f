package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/drift/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Tracker maintains one bounded seen-set per action kind, so a resumed
// session never repeats an action on the same target. Membership checks hit
// an in-memory cache; every insert is persisted before the tracker returns.
//
// Targets are only ever added once (callers check Seen first) and Contains
// does not touch recency, so the cache evicts in insertion order: the
// oldest target falls out when an insert passes the cap, matching the
// persisted set's trim-from-front behavior.
type Tracker struct {
	store  storage.DedupStore
	cap    int
	sets   map[storage.ActionKind]*lru.Cache[string, struct{}]
	logger zerolog.Logger
}

// NewTracker creates a tracker with the given per-kind capacity.
func NewTracker(store storage.DedupStore, cap int, logger zerolog.Logger) (*Tracker, error) {
	if cap <= 0 {
		return nil, fmt.Errorf("dedup cap must be > 0, got %d", cap)
	}
	return &Tracker{
		store:  store,
		cap:    cap,
		sets:   make(map[storage.ActionKind]*lru.Cache[string, struct{}]),
		logger: logger.With().Str("component", "dedup-tracker").Logger(),
	}, nil
}

// Load hydrates the in-memory sets for the given kinds from storage.
func (t *Tracker) Load(ctx context.Context, kinds []storage.ActionKind) error {
	for _, kind := range kinds {
		cache, err := t.cache(kind)
		if err != nil {
			return err
		}

		set, err := t.store.Get(ctx, kind)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load dedup set %s: %w", kind, err)
		}

		for _, id := range set.Targets {
			cache.Add(id, struct{}{})
		}

		t.logger.Debug().
			Str("kind", string(kind)).
			Int("targets", cache.Len()).
			Msg("Dedup set loaded")
	}
	return nil
}

// Seen reports whether the target was already acted on for the given kind.
func (t *Tracker) Seen(kind storage.ActionKind, targetID string) bool {
	cache, ok := t.sets[kind]
	if !ok {
		return false
	}
	return cache.Contains(targetID)
}

// Record marks the target as acted on and persists the updated set before
// returning, so a reset immediately after the action cannot replay it.
func (t *Tracker) Record(ctx context.Context, kind storage.ActionKind, targetID string) error {
	cache, err := t.cache(kind)
	if err != nil {
		return err
	}

	cache.Add(targetID, struct{}{})

	// Keys returns oldest first, which is exactly the persisted layout.
	set := storage.DedupSet{Kind: kind, Targets: cache.Keys()}
	if err := t.store.Save(ctx, set); err != nil {
		return fmt.Errorf("save dedup set %s: %w", kind, err)
	}
	return nil
}

// Size returns the current number of tracked targets for a kind.
func (t *Tracker) Size(kind storage.ActionKind) int {
	cache, ok := t.sets[kind]
	if !ok {
		return 0
	}
	return cache.Len()
}

func (t *Tracker) cache(kind storage.ActionKind) (*lru.Cache[string, struct{}], error) {
	if cache, ok := t.sets[kind]; ok {
		return cache, nil
	}
	cache, err := lru.New[string, struct{}](t.cap)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	t.sets[kind] = cache
	return cache, nil
}
