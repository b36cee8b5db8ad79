package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ganymede",
	Short: "Ganymede - admission and cost-governance core for AI proxy gateways",
	Long: `Ganymede is the request-admission and cost-governance core of an
AI-model proxy gateway.

It provides:
  - Sliding and calendar-aligned spending caps per API key, provider and user
  - Session concurrency tracking with atomic provider-level admission
  - Health-aware endpoint selection (failover, round-robin, random, weighted)
  - Dynamic cost multipliers from model and time-period rules`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
