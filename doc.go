// Package adtrail provides a background poller for campaign metrics with a
// durable, append-only run history and chartable time-bucketed aggregates.
//
// adtrail is designed as an SDK-first library: the caller supplies a
// [FetchFunc] that knows how to pull metric rows for a subject (an ad
// account, a tenant, any polled entity), and adtrail decides when to call
// it, whether to back off after rate-limit signals, and how to store and
// summarize the results. Each successful fetch is persisted as an immutable
// Run together with its rows; runs are never updated or deleted.
//
// # Quick Start
//
// Create a tracker around a fetch function and start the poll loop:
//
//	tr, err := adtrail.New(fetchCampaigns,
//	    adtrail.WithSubject("177-690-3111"),
//	    adtrail.WithPollInterval(time.Minute),
//	)
//	if err != nil {
//	    slog.Error("failed to create tracker", "error", err)
//	    os.Exit(1)
//	}
//	defer tr.Close()
//
//	tr.Start(ctx)   // background polling begins
//	...
//	tr.Stop()       // interrupts the loop, even mid-sleep
//
// Manual polls, history pages and chart series are available at any time,
// concurrently with the background loop:
//
//	runID, err := tr.RunOnce(ctx, "", 0) // default subject and window
//	page, err := tr.Runs(ctx, 1, 100)
//	buckets, err := tr.Buckets(ctx, adtrail.GranularityHourly, 24)
//	series, err := tr.Series(ctx, adtrail.GranularityHourly, 24)
//
// # Architecture
//
// The library consists of several internal packages:
//
//   - internal/scheduler: the poll loop, lifecycle state and backoff
//   - internal/history: the SQLite-backed append-only run store
//   - internal/chart: bucket-to-series scaling for line charts
//   - internal/server: JSON HTTP API over the tracker
//
// The internal packages are not part of the public API and may change
// without notice. A standalone binary with YAML configuration is available
// under cmd/adtrail.
package adtrail
