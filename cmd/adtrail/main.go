// Package main is the entry point for the adtrail CLI.
//
// adtrail can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	adtrail serve -c config.yaml    # Start the poller and HTTP API
//	adtrail validate -c config.yaml # Validate configuration
//	adtrail version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "adtrail",
	Short: "A background metrics poller with an immutable run history",
	Long: `adtrail polls a metrics source at a configurable interval, stores
every fetch as an immutable run, and serves the history over an HTTP API
with paging, stats and time-bucketed activity charts.

Quick start:
  1. Create a config file (adtrail.yaml)
  2. Run: adtrail serve -c adtrail.yaml
  3. Query http://localhost:8080/api/runs

Example config:
  port: 8080
  poll_interval: 60s
  subject_id: "123-456-7890"
  source:
    url: https://metrics.example.com/api/campaigns
    headers:
      Authorization: Bearer ${METRICS_TOKEN}`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this adtrail binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("adtrail %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
