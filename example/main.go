package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adtrail/adtrail"
)

func main() {
	// start mock metrics source (see mock_source.go)
	go startMockMetricsSource(":9999")
	time.Sleep(100 * time.Millisecond)

	fetch := adtrail.NewHTTPFetcher("http://localhost:9999/metrics", nil, 5*time.Second)

	tr, err := adtrail.New(fetch,
		adtrail.WithStorePath(filepath.Join(os.TempDir(), "adtrail-demo.db")),
		adtrail.WithSubject("demo-subject"),
		adtrail.WithPollInterval(3*time.Second),
		adtrail.WithWindowDays(7),
	)
	if err != nil {
		slog.Error("failed to create tracker", "error", err)
		os.Exit(1)
	}
	defer tr.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tr.Start(ctx)

	fmt.Println()
	fmt.Println("adtrail demo: polling a mock source every 3s. Ctrl+C to stop.")
	fmt.Println("The source answers 429 on every tenth request, so expect the")
	fmt.Println("tracker to back off now and then.")
	fmt.Println()

	// print a little history report every 10 seconds
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return

		case <-ticker.C:
			report(ctx, tr)
		}
	}
}

func report(ctx context.Context, tr *adtrail.Tracker) {
	stats, err := tr.Stats(ctx)
	if err != nil {
		slog.Error("stats failed", "error", err)
		return
	}

	state := tr.State()
	fmt.Printf("--- runs=%d items=%d phase=%s", stats.TotalRuns, stats.TotalItems, state.Phase)
	if state.BackoffUntil != nil {
		fmt.Printf(" backoff_until=%s", state.BackoffUntil.Format(time.RFC3339))
	}
	fmt.Println()

	buckets, err := tr.Buckets(ctx, adtrail.GranularityFiveMinute, 6)
	if err != nil {
		slog.Error("buckets failed", "error", err)
		return
	}
	for _, b := range buckets {
		fmt.Printf("    %s  %d runs\n", b.Label, b.Count)
	}
}
