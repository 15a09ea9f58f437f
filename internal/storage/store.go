package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface. All mutable session state is
// owned here; other components read and write only through these stores and
// must not cache records across a suspension point.
type Store interface {
	Close() error
	Sessions() SessionStore
	Quotas() QuotaStore
	Dedup() DedupStore
	Logs() LogStore
	History() HistoryStore
}

// SessionStore persists resumable session state. Writes are last-write-wins
// per session id; only one writer runs against a given identity at a time.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, state SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

// QuotaStore persists one record per (action kind, day).
type QuotaStore interface {
	Get(ctx context.Context, kind ActionKind, dayKey string) (*QuotaRecord, error)
	Save(ctx context.Context, record QuotaRecord) error
	DeleteBefore(ctx context.Context, cutoffDayKey string) (int, error)
}

// DedupStore persists one bounded seen-set per action kind.
type DedupStore interface {
	Get(ctx context.Context, kind ActionKind) (*DedupSet, error)
	Save(ctx context.Context, set DedupSet) error
}

// LogStore persists the append-only action log, keyed by session id.
type LogStore interface {
	Append(ctx context.Context, entry ActionLogEntry) error
	List(ctx context.Context, sessionID string) ([]ActionLogEntry, error)
	DeleteSession(ctx context.Context, sessionID string) (int, error)
}

// HistoryStore persists completed-session summaries with a bounded count.
// Append evicts the oldest records beyond maxRecords.
type HistoryStore interface {
	Append(ctx context.Context, record HistoryRecord, maxRecords int) error
	Latest(ctx context.Context) (*HistoryRecord, error)
	List(ctx context.Context) ([]HistoryRecord, error)
}
