package session

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/drift/internal/pacing"
	"github.com/goodtune/drift/internal/storage"
)

// Phase is one ordered stage of a session with a bounded work loop. A
// boundary phase requires a host-level transition (e.g. navigation) before
// the next phase can run; the machine persists and suspends there.
type Phase struct {
	Name     string
	MaxUnits int
	Boundary bool
}

// Candidate is one unit of work discovered within a phase.
type Candidate struct {
	TargetID string
	Metadata map[string]string
}

// AttemptResult reports the outcome of one remote action.
type AttemptResult struct {
	Success     bool
	RateLimited bool
}

// ActionExecutor performs the actual remote effect of an action kind. It is
// implemented entirely by the integration layer; the core only consumes it.
type ActionExecutor interface {
	Attempt(ctx context.Context, kind storage.ActionKind, targetID string) (AttemptResult, error)
}

// CandidateSource produces the lazy, finite sequence of targets considered
// within a phase. It restarts from the top on the next phase entry.
type CandidateSource interface {
	Candidates(ctx context.Context, phase string) (CandidateIterator, error)
}

// CandidateIterator yields candidates in discovery order. A nil candidate
// with a nil error marks exhaustion.
type CandidateIterator interface {
	Next(ctx context.Context) (*Candidate, error)
}

// EligibilityFunc filters candidates before any action is considered.
type EligibilityFunc func(Candidate) bool

// SleepFunc suspends for the given duration, returning early with the
// context error if cancelled. Tests substitute an instant version.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Outcome is how one invocation of the machine's run loop ended.
type Outcome int

const (
	// OutcomeCompleted means every phase ran to completion.
	OutcomeCompleted Outcome = iota
	// OutcomeAborted means the session terminated and is not resumable.
	OutcomeAborted
	// OutcomeSuspended means state is persisted and the caller must re-enter
	// after the host transition settles.
	OutcomeSuspended
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeSuspended:
		return "suspended"
	}
	return "unknown"
}

// Config is the fully resolved, immutable configuration for one session.
type Config struct {
	SessionID   string
	Account     string
	Purpose     string
	DryRun      bool
	StaleTTL    time.Duration
	Phases      []Phase
	Weights     map[storage.ActionKind]float64
	SessionCaps map[storage.ActionKind]int
	DailyCaps   map[storage.ActionKind]int
	DedupCap    int
	HistoryCap  int

	PacingRanges      map[pacing.Category]pacing.Range
	EscalationFactor  float64
	RateLimitCooldown time.Duration

	// PausePollInterval bounds how often the paused loop re-checks the
	// control flags. Defaults to 500ms.
	PausePollInterval time.Duration
}

// Kinds returns the action kinds the session is configured to weigh,
// in deterministic order.
func (c *Config) Kinds() []storage.ActionKind {
	kinds := make([]storage.ActionKind, 0, len(c.Weights))
	for kind := range c.Weights {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
