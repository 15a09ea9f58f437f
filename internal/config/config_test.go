package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Account: "testuser",
			Purpose: "daily",
			Phases: []PhaseConfig{
				{Name: "browse", MaxUnits: 5},
				{Name: "feed", MaxUnits: 20},
			},
			Weights:     map[string]float64{"like": 0.7},
			SessionCaps: map[string]int{"like": 10},
			DailyCaps:   map[string]int{"like": 50},
			DedupCap:    500,
			HistoryCap:  50,
		},
		Pacing: PacingConfig{
			EscalationFactor: 0.03,
			Delays: map[string]DelayRange{
				"between_actions": {Min: "4s", Max: "15s"},
			},
		},
		Storage: StorageConfig{Type: "bolt", Path: "/tmp/drift.bolt"},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing account", func(c *Config) { c.Session.Account = " " }},
		{"no phases", func(c *Config) { c.Session.Phases = nil }},
		{"duplicate phase", func(c *Config) {
			c.Session.Phases = append(c.Session.Phases, PhaseConfig{Name: "feed", MaxUnits: 1})
		}},
		{"zero max units", func(c *Config) { c.Session.Phases[0].MaxUnits = 0 }},
		{"weight above one", func(c *Config) { c.Session.Weights["like"] = 1.5 }},
		{"negative session cap", func(c *Config) { c.Session.SessionCaps["like"] = -1 }},
		{"negative daily cap", func(c *Config) { c.Session.DailyCaps["like"] = -1 }},
		{"zero dedup cap", func(c *Config) { c.Session.DedupCap = 0 }},
		{"inverted delay range", func(c *Config) {
			c.Pacing.Delays["between_actions"] = DelayRange{Min: "10s", Max: "2s"}
		}},
		{"bad delay syntax", func(c *Config) {
			c.Pacing.Delays["between_actions"] = DelayRange{Min: "soon", Max: "later"}
		}},
		{"negative escalation", func(c *Config) { c.Pacing.EscalationFactor = -0.1 }},
		{"unknown storage type", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"bolt without path", func(c *Config) { c.Storage.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `session:
  account: testuser
  phases:
    - name: feed
      max_units: 20
  weights:
    like: 0.7
  session_caps:
    like: 10
  daily_caps:
    like: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.Purpose != "daily" {
		t.Errorf("Expected default purpose, got %q", cfg.Session.Purpose)
	}
	if cfg.Session.StaleTTL != "6h" {
		t.Errorf("Expected default stale_ttl, got %q", cfg.Session.StaleTTL)
	}
	if cfg.Session.DedupCap != 500 {
		t.Errorf("Expected default dedup_cap, got %d", cfg.Session.DedupCap)
	}
	if cfg.RateLimit.Cooldown != "15m" {
		t.Errorf("Expected default ratelimit cooldown, got %q", cfg.RateLimit.Cooldown)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("Expected default bolt storage, got %q", cfg.Storage.Type)
	}
	if got := cfg.Pacing.Delays["between_actions"].Max; got != "15s" {
		t.Errorf("Expected default between_actions max, got %q", got)
	}
	if cfg.Control.Port != 7430 {
		t.Errorf("Expected default control port, got %d", cfg.Control.Port)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// Valid YAML, invalid configuration.
	if err := os.WriteFile(path, []byte("session:\n  account: \"\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestSessionIDStable(t *testing.T) {
	a := SessionID("alice", "daily")
	b := SessionID("alice", "daily")
	if a != b {
		t.Error("Expected identical ids for identical inputs")
	}
	if len(a) != 40 {
		t.Errorf("Expected 40 hex chars, got %d", len(a))
	}
	if SessionID("alice", "weekly") == a {
		t.Error("Expected purpose to change the id")
	}
	if SessionID(" alice ", "daily") != a {
		t.Error("Expected surrounding whitespace ignored")
	}
}
