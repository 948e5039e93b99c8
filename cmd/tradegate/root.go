package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tradegate",
	Short: "Token-gated gateway for sector market analysis",
	Long: `TradeGate sits in front of an external text-generation service and
turns it into a small, safe API: callers obtain an ephemeral access
token, then request market analysis reports for an industry sector.

Every request is authenticated, rate limited per token with a strict
sliding window, and journaled. Upstream failures are retried with
exponential backoff and mapped to a stable error taxonomy.

Quick start:
  tradegate serve     # Start the gateway
  tradegate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tradegate.yaml", "config file path")
}
