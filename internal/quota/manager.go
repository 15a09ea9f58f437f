package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/drift/internal/storage"
	"github.com/rs/zerolog"
)

// DayKeyFormat is the date layout used to key daily quota records.
const DayKeyFormat = "2006-01-02"

// Manager enforces per-session and per-day ceilings for each action kind.
// Session counters live in memory (restored from persisted session state on
// resume); daily counters live in storage, keyed by calendar day. Day
// rollover is lazy: a stored record whose day key no longer matches the
// clock's current date is treated as zero and rewritten under the new key.
type Manager struct {
	store       storage.QuotaStore
	sessionCaps map[storage.ActionKind]int
	dailyCaps   map[storage.ActionKind]int
	counts      map[storage.ActionKind]int
	clock       Clock
	logger      zerolog.Logger
}

// NewManager creates a quota manager. An action kind absent from a cap map
// has an effective cap of zero and is never reserved.
func NewManager(store storage.QuotaStore, sessionCaps, dailyCaps map[storage.ActionKind]int, clock Clock, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = RealClock{}
	}
	return &Manager{
		store:       store,
		sessionCaps: sessionCaps,
		dailyCaps:   dailyCaps,
		counts:      make(map[storage.ActionKind]int),
		clock:       clock,
		logger:      logger.With().Str("component", "quota-manager").Logger(),
	}
}

// SetCounts restores session counters from persisted state on resume.
func (m *Manager) SetCounts(counts map[storage.ActionKind]int) {
	m.counts = make(map[storage.ActionKind]int, len(counts))
	for kind, count := range counts {
		m.counts[kind] = count
	}
}

// Counts returns a copy of the current session counters.
func (m *Manager) Counts() map[storage.ActionKind]int {
	out := make(map[storage.ActionKind]int, len(m.counts))
	for kind, count := range m.counts {
		out[kind] = count
	}
	return out
}

// TryReserve reports whether one more action of the given kind is permitted,
// and if so consumes a slot from both the session and daily counters. The
// daily record is persisted before returning, so there is no suspension
// point between the check and the increment. A false return performs no
// mutation and is a normal skip signal, not an error.
func (m *Manager) TryReserve(ctx context.Context, kind storage.ActionKind) (bool, error) {
	if m.counts[kind] >= m.sessionCaps[kind] {
		m.logger.Debug().
			Str("kind", string(kind)).
			Int("count", m.counts[kind]).
			Int("cap", m.sessionCaps[kind]).
			Msg("Session quota exhausted")
		return false, nil
	}

	record, err := m.dailyRecord(ctx, kind)
	if err != nil {
		return false, err
	}

	if record.Count >= m.dailyCaps[kind] {
		m.logger.Debug().
			Str("kind", string(kind)).
			Str("day", record.DayKey).
			Int("count", record.Count).
			Int("cap", m.dailyCaps[kind]).
			Msg("Daily quota exhausted")
		return false, nil
	}

	record.Count++
	if err := m.store.Save(ctx, *record); err != nil {
		return false, fmt.Errorf("save quota record: %w", err)
	}
	m.counts[kind]++

	return true, nil
}

// DailyCount returns today's persisted count for the given kind, applying
// lazy rollover if the stored record belongs to a past day.
func (m *Manager) DailyCount(ctx context.Context, kind storage.ActionKind) (int, error) {
	record, err := m.dailyRecord(ctx, kind)
	if err != nil {
		return 0, err
	}
	return record.Count, nil
}

// dailyRecord loads the quota record for the current day. A record stored
// under a past day key is inert; a fresh zero record takes its place.
func (m *Manager) dailyRecord(ctx context.Context, kind storage.ActionKind) (*storage.QuotaRecord, error) {
	today := m.clock.Now().Format(DayKeyFormat)

	record, err := m.store.Get(ctx, kind, today)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load quota record: %w", err)
		}
		record = &storage.QuotaRecord{Kind: kind, DayKey: today}
	}

	if record.DayKey != today {
		m.logger.Debug().
			Str("kind", string(kind)).
			Str("stored_day", record.DayKey).
			Str("current_day", today).
			Msg("Day rollover detected, starting fresh daily count")
		record = &storage.QuotaRecord{Kind: kind, DayKey: today}
	}

	return record, nil
}
