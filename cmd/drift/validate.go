package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/drift/internal/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the drift configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("Configuration is valid: %s\n", configPath)

	fmt.Printf("  account:    %s\n", cfg.Session.Account)
	fmt.Printf("  purpose:    %s\n", cfg.Session.Purpose)
	fmt.Printf("  phases:     %d\n", len(cfg.Session.Phases))
	fmt.Printf("  storage:    %s\n", cfg.Storage.Type)
	fmt.Printf("  session id: %s\n", cfg.Session.SessionID())
	return nil
}
