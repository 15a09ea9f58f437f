package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionKind identifies one category of engagement action (e.g. "like").
type ActionKind string

// Status represents the lifecycle state of a session record.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusAborted   Status = "ABORTED"
)

// UnmarshalJSON implements json.Unmarshaler to normalize status to uppercase.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := Status(strings.ToUpper(raw))

	switch normalized {
	case StatusRunning, StatusPaused, StatusCompleted, StatusAborted:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid status: %s (must be RUNNING, PAUSED, COMPLETED, or ABORTED)", raw)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Terminal reports whether the status ends a session.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// SessionState is the resumable state of one session, keyed by session id.
// CurrentPhaseIndex only ever advances; PhaseCursor is an opaque progress
// marker within the current phase (last processed target id).
type SessionState struct {
	SessionID         string             `json:"session_id"`
	Account           string             `json:"account"`
	Purpose           string             `json:"purpose"`
	CurrentPhaseIndex int                `json:"current_phase_index"`
	PhaseCursor       string             `json:"phase_cursor"`
	Counters          map[ActionKind]int `json:"counters"`
	Status            Status             `json:"status"`
	AbortReason       string             `json:"abort_reason,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// QuotaRecord tracks the count of one action kind for one calendar day.
// A record for a past day is inert; readers compare DayKey to the current
// date and start fresh on mismatch.
type QuotaRecord struct {
	Kind   ActionKind `json:"kind"`
	DayKey string     `json:"day_key"`
	Count  int        `json:"count"`
}

// DedupSet holds the target ids already acted on for one action kind,
// oldest first. Size is bounded by the caller; inserts past the cap evict
// from the front.
type DedupSet struct {
	Kind    ActionKind `json:"kind"`
	Targets []string   `json:"targets"`
}

// Contains reports whether the set holds the given target id.
func (d *DedupSet) Contains(targetID string) bool {
	for _, id := range d.Targets {
		if id == targetID {
			return true
		}
	}
	return false
}

// ActionLogEntry is one append-only record of an attempted action. Entries
// are reporting data only; control decisions never read them.
type ActionLogEntry struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Kind      ActionKind `json:"kind"`
	TargetID  string     `json:"target_id"`
	Timestamp time.Time  `json:"timestamp"`
	Outcome   string     `json:"outcome"`
}

// HistoryRecord summarizes one finished session. The newest record drives
// the cooldown check before the next session starts.
type HistoryRecord struct {
	SessionID     string             `json:"session_id"`
	Status        Status             `json:"status"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at"`
	Counters      map[ActionKind]int `json:"counters"`
	UniqueTargets int                `json:"unique_targets"`
}

// Duration returns the wall-clock length of the summarized session.
func (h *HistoryRecord) Duration() time.Duration {
	return h.EndedAt.Sub(h.StartedAt)
}
