package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFirstSignalEntersCooldown(t *testing.T) {
	m := NewMonitor(time.Minute, zerolog.Nop())

	if state := m.Observe(true); state != StateCooling {
		t.Errorf("Expected cooling after first signal, got %s", state)
	}
	if m.State() != StateCooling {
		t.Errorf("Expected cooling state retained, got %s", m.State())
	}
}

func TestSecondConsecutiveSignalIsTerminal(t *testing.T) {
	m := NewMonitor(time.Minute, zerolog.Nop())

	m.Observe(true)
	if state := m.Observe(true); state != StateExceeded {
		t.Errorf("Expected exceeded after second signal, got %s", state)
	}
}

func TestSuccessResetsStrikes(t *testing.T) {
	m := NewMonitor(time.Minute, zerolog.Nop())

	m.Observe(true)
	if state := m.Observe(false); state != StateClear {
		t.Errorf("Expected clear after success, got %s", state)
	}
	// The next throttle signal starts a fresh cooldown cycle.
	if state := m.Observe(true); state != StateCooling {
		t.Errorf("Expected cooling after reset, got %s", state)
	}
}

func TestDefaultCooldownApplied(t *testing.T) {
	m := NewMonitor(0, zerolog.Nop())
	if m.Cooldown() != DefaultCooldown {
		t.Errorf("Expected default cooldown %s, got %s", DefaultCooldown, m.Cooldown())
	}
}
