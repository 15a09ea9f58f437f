package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure so callers can refuse to
// start a session with errors.Is.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the complete application configuration
type Config struct {
	Session   SessionConfig   `mapstructure:"session"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Control   ControlConfig   `mapstructure:"control"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SessionConfig defines one session: phase order, action weights and caps.
type SessionConfig struct {
	Account     string             `mapstructure:"account"`
	Purpose     string             `mapstructure:"purpose"`
	DryRun      bool               `mapstructure:"dry_run"`
	StaleTTL    string             `mapstructure:"stale_ttl"`
	MinInterval string             `mapstructure:"min_interval"`
	Phases      []PhaseConfig      `mapstructure:"phases"`
	Weights     map[string]float64 `mapstructure:"weights"`
	SessionCaps map[string]int     `mapstructure:"session_caps"`
	DailyCaps   map[string]int     `mapstructure:"daily_caps"`
	DedupCap    int                `mapstructure:"dedup_cap"`
	HistoryCap  int                `mapstructure:"history_cap"`
}

// PhaseConfig defines one ordered phase and its iteration budget. Boundary
// phases require a host-level transition before the next phase can run.
type PhaseConfig struct {
	Name     string `mapstructure:"name"`
	MaxUnits int    `mapstructure:"max_units"`
	Boundary bool   `mapstructure:"boundary"`
}

// PacingConfig defines delay ranges per category and the escalation factor
// applied as actions accumulate.
type PacingConfig struct {
	EscalationFactor float64               `mapstructure:"escalation_factor"`
	Delays           map[string]DelayRange `mapstructure:"delays"`
}

// DelayRange is an inclusive duration range, values in Go duration syntax.
type DelayRange struct {
	Min string `mapstructure:"min"`
	Max string `mapstructure:"max"`
}

// RateLimitConfig defines the cooldown applied on a throttle signal.
type RateLimitConfig struct {
	Cooldown string `mapstructure:"cooldown"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig defines the HTTP control surface settings
type ControlConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// MetricsConfig defines the metrics endpoint settings
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(configPath); !os.IsNotExist(statErr) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Session defaults
	v.SetDefault("session.purpose", "daily")
	v.SetDefault("session.dry_run", false)
	v.SetDefault("session.stale_ttl", "6h")
	v.SetDefault("session.min_interval", "4h")
	v.SetDefault("session.dedup_cap", 500)
	v.SetDefault("session.history_cap", 50)

	// Pacing defaults
	v.SetDefault("pacing.escalation_factor", 0.03)
	v.SetDefault("pacing.delays.reading_pause.min", "2s")
	v.SetDefault("pacing.delays.reading_pause.max", "8s")
	v.SetDefault("pacing.delays.between_actions.min", "4s")
	v.SetDefault("pacing.delays.between_actions.max", "15s")
	v.SetDefault("pacing.delays.between_phases.min", "20s")
	v.SetDefault("pacing.delays.between_phases.max", "45s")
	v.SetDefault("pacing.delays.scroll_pause.min", "1s")
	v.SetDefault("pacing.delays.scroll_pause.max", "3s")

	// Rate limit defaults
	v.SetDefault("ratelimit.cooldown", "15m")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Control surface defaults
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.bind_address", "127.0.0.1")
	v.SetDefault("control.port", 7430)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9430)
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "drift.bolt"
	}
	return filepath.Join(home, ".local", "share", "drift", "drift.bolt")
}

// Validate checks the configuration and wraps failures in ErrInvalidConfig.
// A session must never start on a validation failure.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Session.Account) == "" {
		return invalid("session.account is required")
	}
	if len(cfg.Session.Phases) == 0 {
		return invalid("at least one phase must be enabled")
	}

	seen := make(map[string]bool, len(cfg.Session.Phases))
	for i, phase := range cfg.Session.Phases {
		if strings.TrimSpace(phase.Name) == "" {
			return invalid("phase %d has an empty name", i)
		}
		if seen[phase.Name] {
			return invalid("duplicate phase name: %s", phase.Name)
		}
		seen[phase.Name] = true
		if phase.MaxUnits <= 0 {
			return invalid("phase %s: max_units must be > 0", phase.Name)
		}
	}

	for kind, weight := range cfg.Session.Weights {
		if weight < 0 || weight > 1 {
			return invalid("weight for %s must be in [0,1], got %v", kind, weight)
		}
	}
	for kind, cap := range cfg.Session.SessionCaps {
		if cap < 0 {
			return invalid("session cap for %s must be >= 0, got %d", kind, cap)
		}
	}
	for kind, cap := range cfg.Session.DailyCaps {
		if cap < 0 {
			return invalid("daily cap for %s must be >= 0, got %d", kind, cap)
		}
	}

	if cfg.Session.DedupCap <= 0 {
		return invalid("session.dedup_cap must be > 0")
	}

	for category, r := range cfg.Pacing.Delays {
		min, err := time.ParseDuration(r.Min)
		if err != nil {
			return invalid("delay %s: invalid min: %v", category, err)
		}
		max, err := time.ParseDuration(r.Max)
		if err != nil {
			return invalid("delay %s: invalid max: %v", category, err)
		}
		if min < 0 || max < min {
			return invalid("delay %s: range [%s, %s] is not ordered", category, r.Min, r.Max)
		}
	}

	if cfg.Pacing.EscalationFactor < 0 {
		return invalid("pacing.escalation_factor must be >= 0")
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return invalid("storage.path is required for bolt storage")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return invalid("storage.redis.host is required for redis storage")
		}
	default:
		return invalid("unknown storage type: %s", cfg.Storage.Type)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// SessionID derives the resumable session identifier from account and
// purpose. It is stable across process restarts.
func (s *SessionConfig) SessionID() string {
	return SessionID(s.Account, s.Purpose)
}
