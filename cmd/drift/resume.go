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
	"github.com/goodtune/drift/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var resumeCandidates string

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted session",
	Long: `Resume the session for the configured account and purpose from its last
checkpoint. Fails if no resumable state exists or the persisted state has
expired.`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeCandidates, "candidates", "", "Path to a candidate list file")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	sessionCfg, err := resolveSessionConfig(cfg)
	if err != nil {
		return err
	}

	runCandidates = resumeCandidates
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, requesting clean stop")
		machine.Control().Stop()
	}()

	ctx := context.Background()
	outcome, err := machine.Resume(ctx)
	for err == nil && outcome == session.OutcomeSuspended {
		logger.Info().Dur("settle", settleDelay).Msg("Boundary phase reached, re-entering after settle")
		time.Sleep(settleDelay)
		outcome, err = machine.Resume(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			return fmt.Errorf("nothing to resume: no persisted session for account %q purpose %q", cfg.Session.Account, cfg.Session.Purpose)
		case errors.Is(err, session.ErrStaleState):
			return fmt.Errorf("persisted session expired; start a fresh run instead")
		default:
			return fmt.Errorf("resume failed: %w", err)
		}
	}

	logger.Info().Str("outcome", outcome.String()).Msg("Drift finished")
	return nil
}
