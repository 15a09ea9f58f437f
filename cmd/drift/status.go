package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/drift/internal/config"
	"github.com/goodtune/drift/internal/quota"
	"github.com/goodtune/drift/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state, quota usage and recent history",
	Long: `Show the persisted state for the configured account and purpose: the
current checkpoint if a session is live, today's quota consumption per
action kind, and recent session summaries.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 5, "Number of recent sessions to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	sessionID := cfg.Session.SessionID()
	bold.Printf("Account:  %s (purpose: %s)\n", cfg.Session.Account, cfg.Session.Purpose)
	fmt.Printf("Session:  %s\n\n", sessionID)

	state, err := store.Sessions().Get(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fmt.Println("No live session.")
	case err != nil:
		return fmt.Errorf("failed to load session state: %w", err)
	default:
		printState(cfg, state, green, yellow, red)
	}

	fmt.Println()
	bold.Println("Daily quota usage:")
	manager := quota.NewManager(store.Quotas(), nil, nil, nil, zerolog.Nop())
	kinds := sortedKinds(cfg.Session.DailyCaps)
	for _, kind := range kinds {
		count, err := manager.DailyCount(ctx, storage.ActionKind(kind))
		if err != nil {
			return fmt.Errorf("failed to load daily count for %s: %w", kind, err)
		}
		cap := cfg.Session.DailyCaps[kind]
		line := fmt.Sprintf("  %-12s %d / %d", kind, count, cap)
		if cap > 0 && count >= cap {
			red.Println(line)
		} else {
			fmt.Println(line)
		}
	}

	if statusHistory > 0 {
		fmt.Println()
		bold.Println("Recent sessions:")
		records, err := store.History().List(ctx)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("  (none)")
		}
		start := len(records) - statusHistory
		if start < 0 {
			start = 0
		}
		for i := len(records) - 1; i >= start; i-- {
			record := records[i]
			statusColor := green
			if record.Status == storage.StatusAborted {
				statusColor = red
			}
			cyan.Printf("  %s  ", record.EndedAt.Local().Format("2006-01-02 15:04"))
			statusColor.Printf("%-9s", record.Status)
			fmt.Printf("  %s  %d targets\n", record.Duration().Round(time.Second), record.UniqueTargets)
		}
	}

	return nil
}

func printState(cfg *config.Config, state *storage.SessionState, green, yellow, red *color.Color) {
	statusColor := green
	switch state.Status {
	case storage.StatusPaused:
		statusColor = yellow
	case storage.StatusAborted:
		statusColor = red
	}

	fmt.Print("Status:   ")
	statusColor.Println(string(state.Status))
	if state.AbortReason != "" {
		fmt.Printf("Reason:   %s\n", state.AbortReason)
	}

	phase := "(done)"
	if state.CurrentPhaseIndex < len(cfg.Session.Phases) {
		phase = cfg.Session.Phases[state.CurrentPhaseIndex].Name
	}
	fmt.Printf("Phase:    %s (index %d)\n", phase, state.CurrentPhaseIndex)
	if state.PhaseCursor != "" {
		fmt.Printf("Cursor:   %s\n", state.PhaseCursor)
	}
	fmt.Printf("Started:  %s\n", state.StartedAt.Local().Format(time.RFC1123))
	fmt.Printf("Updated:  %s\n", state.UpdatedAt.Local().Format(time.RFC1123))

	if len(state.Counters) > 0 {
		fmt.Println("Counters:")
		for _, kind := range sortedActionKinds(state.Counters) {
			fmt.Printf("  %-12s %d / %d\n", kind, state.Counters[kind], cfg.Session.SessionCaps[string(kind)])
		}
	}
}

func sortedKinds(caps map[string]int) []string {
	kinds := make([]string, 0, len(caps))
	for kind := range caps {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func sortedActionKinds(counters map[storage.ActionKind]int) []storage.ActionKind {
	kinds := make([]storage.ActionKind, 0, len(counters))
	for kind := range counters {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
