package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/tradegate/bootstrap"
	"github.com/artpar/tradegate/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the TradeGate server.

The server will:
  - Load configuration from tradegate.yaml (or --config)
  - Or load configuration from TRADEGATE_* environment variables
  - Issue access tokens at POST /auth
  - Serve sector analysis at POST /analyze with per-token rate limiting

Environment variables (for Docker deployments):
  TRADEGATE_UPSTREAM_API_KEY  - Provider credential (required; GEMINI_API_KEY also honored)
  TRADEGATE_PORT              - Server port (default: 8080)
  TRADEGATE_RATE_LIMIT_MAX    - Admissions per window (default: 5)
  TRADEGATE_RATE_LIMIT_WINDOW - Window duration (default: 60s)
  TRADEGATE_DATABASE_DSN      - Usage journal path (default: in-memory)
  TRADEGATE_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  tradegate serve
  tradegate serve --config /etc/tradegate/config.yaml

  # Docker (env vars only):
  TRADEGATE_UPSTREAM_API_KEY=... tradegate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s with an upstream.api_key\n", cfgFile)
		fmt.Println("Option 2: Set TRADEGATE_UPSTREAM_API_KEY (or GEMINI_API_KEY)")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  TRADEGATE_UPSTREAM_API_KEY=... tradegate serve")
		return nil
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if !hasConfigFile {
		fmt.Println("Running with environment variables (no config file)")
	}

	bootstrap.Version = version
	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
