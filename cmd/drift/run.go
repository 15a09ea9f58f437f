package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/drift/internal/config"
	"github.com/goodtune/drift/internal/control"
	"github.com/goodtune/drift/internal/metrics"
	"github.com/goodtune/drift/internal/pacing"
	"github.com/goodtune/drift/internal/session"
	"github.com/goodtune/drift/internal/storage"
	boltstore "github.com/goodtune/drift/internal/storage/bolt"
	redisstore "github.com/goodtune/drift/internal/storage/redis"
	"github.com/goodtune/drift/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	runForce      bool
	runDryRun     bool
	runCandidates string

	// settleDelay is how long the harness waits after a boundary phase
	// before re-entering the session.
	settleDelay = 2 * time.Second
)

// quotaRetentionDays is how long spent daily quota records are kept before
// startup pruning removes them. Only the current day is ever read.
const quotaRetentionDays = 7

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a session to completion",
	Long: `Run the configured session, resuming transparently from persisted state
if a previous run was interrupted. Candidates come from the file given with
--candidates; integrations embedding the session package supply their own
candidate sources and action executors.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "Start even if the inter-session cooldown is active")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Evaluate and log actions without performing them")
	runCmd.Flags().StringVar(&runCandidates, "candidates", "", "Path to a candidate list file")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("account", cfg.Session.Account).
		Msg("Starting drift")

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	cutoff := time.Now().AddDate(0, 0, -quotaRetentionDays).Format("2006-01-02")
	if pruned, err := store.Quotas().DeleteBefore(context.Background(), cutoff); err != nil {
		logger.Warn().Err(err).Msg("Failed to prune old quota records")
	} else if pruned > 0 {
		logger.Info().Int("records", pruned).Str("cutoff", cutoff).Msg("Pruned old quota records")
	}

	if !runForce {
		minInterval := parseDuration(cfg.Session.MinInterval, 4*time.Hour)
		if err := session.CheckCooldown(context.Background(), store.History(), minInterval, nil); err != nil {
			if errors.Is(err, session.ErrCooldownActive) {
				return fmt.Errorf("%w (use --force to override)", err)
			}
			return err
		}
	}

	sessionCfg, err := resolveSessionConfig(cfg)
	if err != nil {
		return err
	}
	if runDryRun {
		sessionCfg.DryRun = true
	}

	source, err := buildSource()
	if err != nil {
		return err
	}

	machine, err := session.New(sessionCfg, store, session.Options{
		Executor: session.NoopExecutor{},
		Source:   source,
	}, logger)
	if err != nil {
		return err
	}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	if cfg.Control.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Control.BindAddress, cfg.Control.Port)
		controlServer := control.NewServer(addr, machine, logger)
		if sdListeners.Activated && sdListeners.Control != nil {
			controlServer.SetListener(sdListeners.Control)
		}
		if err := controlServer.Start(); err != nil {
			return fmt.Errorf("failed to start control server: %w", err)
		}
		defer func() {
			if err := controlServer.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping control server")
			}
		}()
	}

	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer := metrics.NewServer(addr, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping metrics server")
			}
		}()
	}

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// A shutdown signal requests a clean stop: the machine finishes the
	// current unit, checkpoints, and exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, requesting clean stop")
		machine.Control().Stop()
	}()

	ctx := context.Background()
	outcome, err := machine.Start(ctx)
	for err == nil && outcome == session.OutcomeSuspended {
		logger.Info().Dur("settle", settleDelay).Msg("Boundary phase reached, re-entering after settle")
		time.Sleep(settleDelay)
		outcome, err = machine.Start(ctx)
	}

	if sdErr := systemd.NotifyStopping(); sdErr != nil {
		logger.Warn().Err(sdErr).Msg("Failed to send systemd stopping notification")
	}

	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}

	logger.Info().Str("outcome", outcome.String()).Msg("Drift finished")
	return nil
}

func buildSource() (session.CandidateSource, error) {
	if runCandidates == "" {
		return session.NewStaticSource(nil), nil
	}
	source, err := session.LoadCandidateFile(runCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	return source, nil
}

// resolveSessionConfig translates the file configuration into the resolved
// form the session machine consumes.
func resolveSessionConfig(cfg *config.Config) (session.Config, error) {
	phases := make([]session.Phase, 0, len(cfg.Session.Phases))
	for _, phase := range cfg.Session.Phases {
		phases = append(phases, session.Phase{
			Name:     phase.Name,
			MaxUnits: phase.MaxUnits,
			Boundary: phase.Boundary,
		})
	}

	weights := make(map[storage.ActionKind]float64, len(cfg.Session.Weights))
	for kind, weight := range cfg.Session.Weights {
		weights[storage.ActionKind(kind)] = weight
	}
	sessionCaps := make(map[storage.ActionKind]int, len(cfg.Session.SessionCaps))
	for kind, cap := range cfg.Session.SessionCaps {
		sessionCaps[storage.ActionKind(kind)] = cap
	}
	dailyCaps := make(map[storage.ActionKind]int, len(cfg.Session.DailyCaps))
	for kind, cap := range cfg.Session.DailyCaps {
		dailyCaps[storage.ActionKind(kind)] = cap
	}

	ranges := make(map[pacing.Category]pacing.Range, len(cfg.Pacing.Delays))
	for category, r := range cfg.Pacing.Delays {
		min, err := time.ParseDuration(r.Min)
		if err != nil {
			return session.Config{}, fmt.Errorf("invalid delay min for %s: %w", category, err)
		}
		max, err := time.ParseDuration(r.Max)
		if err != nil {
			return session.Config{}, fmt.Errorf("invalid delay max for %s: %w", category, err)
		}
		ranges[pacing.Category(category)] = pacing.Range{Min: min, Max: max}
	}

	return session.Config{
		SessionID:         cfg.Session.SessionID(),
		Account:           cfg.Session.Account,
		Purpose:           cfg.Session.Purpose,
		DryRun:            cfg.Session.DryRun,
		StaleTTL:          parseDuration(cfg.Session.StaleTTL, 6*time.Hour),
		Phases:            phases,
		Weights:           weights,
		SessionCaps:       sessionCaps,
		DailyCaps:         dailyCaps,
		DedupCap:          cfg.Session.DedupCap,
		HistoryCap:        cfg.Session.HistoryCap,
		PacingRanges:      ranges,
		EscalationFactor:  cfg.Pacing.EscalationFactor,
		RateLimitCooldown: parseDuration(cfg.RateLimit.Cooldown, 15*time.Minute),
	}, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "redis":
		return redisstore.Open(cfg.Storage.Redis)
	default:
		return boltstore.Open(cfg.Storage.Path)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
