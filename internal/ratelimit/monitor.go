package ratelimit

import (
	"time"

	"github.com/rs/zerolog"
)

// State is the monitor's view of the remote platform's throttling.
type State int

const (
	// StateClear means no throttling signal is active.
	StateClear State = iota
	// StateCooling means one throttle signal was observed; the caller must
	// suspend for the cooldown before attempting anything else.
	StateCooling
	// StateExceeded means a throttle signal arrived again after a cooldown.
	// The session must abort; this is terminal for the current run.
	StateExceeded
)

func (s State) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateCooling:
		return "cooling"
	case StateExceeded:
		return "exceeded"
	}
	return "unknown"
}

// DefaultCooldown is the fixed suspension after the first throttle signal.
// It is deliberately long and independent of ordinary pacing.
const DefaultCooldown = 15 * time.Minute

// Monitor tracks throttle signals reported by the action executor. The
// first signal demands one cooldown-and-retry cycle; a second consecutive
// signal is terminal. Any successful signal resets the strike count.
type Monitor struct {
	cooldown   time.Duration
	strikes    int
	lastSignal time.Time
	logger     zerolog.Logger
}

// NewMonitor creates a monitor with the given cooldown duration.
func NewMonitor(cooldown time.Duration, logger zerolog.Logger) *Monitor {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Monitor{
		cooldown: cooldown,
		logger:   logger.With().Str("component", "ratelimit-monitor").Logger(),
	}
}

// Observe folds one executor signal into the monitor and returns the
// resulting state.
func (m *Monitor) Observe(limited bool) State {
	if !limited {
		if m.strikes > 0 {
			m.logger.Info().Int("strikes", m.strikes).Msg("Throttling cleared")
		}
		m.strikes = 0
		return StateClear
	}

	m.strikes++
	m.lastSignal = time.Now()

	if m.strikes == 1 {
		m.logger.Warn().Dur("cooldown", m.cooldown).Msg("Rate limit signal observed, entering cooldown")
		return StateCooling
	}

	m.logger.Error().Int("strikes", m.strikes).Msg("Rate limit persisted after cooldown, aborting")
	return StateExceeded
}

// State returns the current state without folding in a new signal.
func (m *Monitor) State() State {
	switch m.strikes {
	case 0:
		return StateClear
	case 1:
		return StateCooling
	default:
		return StateExceeded
	}
}

// Cooldown returns the configured cooldown duration.
func (m *Monitor) Cooldown() time.Duration {
	return m.cooldown
}
