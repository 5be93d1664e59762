package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adtrail/adtrail"
	"github.com/adtrail/adtrail/config"
	"github.com/adtrail/adtrail/internal/server"
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd starts the poller and the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the poller and HTTP API",
	Long: `Start the adtrail poller and its HTTP API.

The server will:
  - Load configuration from the specified YAML file
  - Open (creating if necessary) the SQLite run history
  - Start polling the configured metrics source, unless disabled
  - Serve the control and history API on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  adtrail serve -c config.yaml
  adtrail serve --config /etc/adtrail/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Source.URL == "" {
		return fmt.Errorf("source.url is required to serve")
	}

	logger.Info("config loaded",
		"db_path", cfg.DBPath,
		"subject_id", cfg.SubjectID,
		"enabled", cfg.IsEnabled(),
	)
	logger.Info("starting server",
		"port", cfg.Port,
		"poll_interval", cfg.PollInterval.Duration().String(),
	)

	fetch := adtrail.NewHTTPFetcher(cfg.Source.URL, cfg.Source.Headers, cfg.Source.Timeout.Duration())

	tracker, err := adtrail.New(fetch,
		adtrail.WithStorePath(cfg.DBPath),
		adtrail.WithPollInterval(cfg.PollInterval.Duration()),
		adtrail.WithWindowDays(cfg.WindowDays),
		adtrail.WithSubject(cfg.SubjectID),
		adtrail.WithEnabled(cfg.IsEnabled()),
		adtrail.WithManualBackoffBypass(cfg.ManualBypassesBackoff()),
		adtrail.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(tracker, cfg.Port, logger)
	if err := srv.Start(ctx); err != nil {
		_ = tracker.Close()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if cfg.IsEnabled() {
		tracker.Start(ctx)
	}

	<-ctx.Done()

	if err := tracker.Close(); err != nil {
		logger.Warn("failed to close tracker", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
