package adtrail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adtrail/adtrail/internal/chart"
	"github.com/adtrail/adtrail/internal/history"
	"github.com/adtrail/adtrail/internal/scheduler"
)

const (
	defaultPollInterval = 60 * time.Second
	defaultWindowDays   = 30
	defaultStorePath    = "adtrail.db"

	minWindowDays = 1
	maxWindowDays = 365
)

// Tracker is the main orchestrator for metric polling and run history.
//
// Tracker coordinates a background fetch-and-persist loop, an immutable
// run history, and read APIs over that history (pages, stats, bucketed
// counts, chart series). It is created with [New] using functional options
// and started with [Tracker.Start].
//
// The typical lifecycle is:
//
//	tr, err := adtrail.New(fetch, adtrail.WithSubject("123-456-7890"))
//	if err != nil {
//	    slog.Error("failed to create tracker", "error", err)
//	    os.Exit(1)
//	}
//	defer tr.Close()
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	tr.Start(ctx)
//	<-ctx.Done()
//
// All methods are safe for concurrent use.
type Tracker struct {
	store      history.Store
	sched      *scheduler.Scheduler
	logger     *slog.Logger
	subjectID  string
	windowDays int
}

// New creates a [Tracker] around the given fetch function.
//
// The fetch function is required; everything else has a default:
//   - Store path: "adtrail.db"
//   - Poll interval: 60 seconds
//   - Window: 30 days
//   - Automatic polling: enabled
//   - Manual runs bypass backoff: yes
//
// New opens (and if necessary creates) the SQLite store. Returns an error
// if fetch is nil, any option is invalid, or the store cannot be opened.
func New(fetch FetchFunc, opts ...Option) (*Tracker, error) {
	if fetch == nil {
		return nil, errors.New("fetch function is required")
	}

	cfg := &trackerConfig{
		storePath:             defaultStorePath,
		pollInterval:          defaultPollInterval,
		windowDays:            defaultWindowDays,
		enabled:               true,
		manualBypassesBackoff: true,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := history.Open(cfg.storePath)
	if err != nil {
		return nil, err
	}

	schedFetch := func(ctx context.Context, subjectID string, windowDays int) ([]history.Row, error) {
		rows, err := fetch(ctx, subjectID, windowDays)
		if err != nil {
			return nil, err
		}
		return rowsToHistory(rows), nil
	}

	sched := scheduler.New(schedFetch, store, scheduler.Config{
		PollInterval:          cfg.pollInterval,
		WindowDays:            cfg.windowDays,
		SubjectID:             cfg.subjectID,
		Enabled:               cfg.enabled,
		ManualBypassesBackoff: cfg.manualBypassesBackoff,
	}, logger)

	return &Tracker{
		store:      store,
		sched:      sched,
		logger:     logger,
		subjectID:  cfg.subjectID,
		windowDays: cfg.windowDays,
	}, nil
}

// Start launches the background polling worker and enables automatic
// polling. Starting an already-running tracker is a no-op.
//
// Start returns immediately; the worker runs until [Tracker.Stop] is
// called or ctx is cancelled. A stopped tracker can be started again.
func (t *Tracker) Start(ctx context.Context) {
	t.sched.SetEnabled(true)
	t.sched.Start(ctx)
}

// Stop signals the background worker to exit and clears any backoff
// deadline. It does not wait for a fetch already in flight. Stop is
// idempotent.
func (t *Tracker) Stop() {
	t.sched.Stop()
}

// SetEnabled toggles the automatic polling path without stopping the
// worker. Manual runs are unaffected.
func (t *Tracker) SetEnabled(enabled bool) {
	t.sched.SetEnabled(enabled)
}

// State returns a snapshot of the tracker's lifecycle.
func (t *Tracker) State() State {
	return stateFromScheduler(t.sched.State())
}

// RunOnce performs one synchronous fetch-and-persist and returns the
// stored run id.
//
// An empty subjectID falls back to the configured default subject; if
// neither is set a [ValidationError] is returned. A zero windowDays falls
// back to the configured default; otherwise it must be within 1-365.
//
// RunOnce shares a single-flight lock with the automatic loop, so a
// concurrent automatic run blocks it until that run's data is committed.
// Unless [WithManualBackoffBypass] was set false, RunOnce ignores an
// active backoff window; either way a failing manual run never installs
// backoff state.
func (t *Tracker) RunOnce(ctx context.Context, subjectID string, windowDays int) (int64, error) {
	if subjectID == "" {
		subjectID = t.subjectID
	}
	if subjectID == "" {
		return 0, &ValidationError{Field: "subject_id", Reason: "no subject configured and none provided"}
	}
	if windowDays == 0 {
		windowDays = t.windowDays
	}
	if windowDays < minWindowDays || windowDays > maxWindowDays {
		return 0, validationf("window_days", "must be between %d and %d, got %d", minWindowDays, maxWindowDays, windowDays)
	}

	runID, err := t.sched.RunOnce(ctx, subjectID, windowDays)
	if err != nil {
		var rl *scheduler.RateLimitError
		if errors.As(err, &rl) {
			return 0, &RateLimitError{RetryAfter: rl.RetryAfter, Err: rl.Err}
		}
		return 0, err
	}
	return runID, nil
}

// Runs returns one page of run summaries, newest first.
//
// page is clamped to the valid range (first page at minimum, last page at
// maximum); pageSize is clamped to 20-500. The clamped values are echoed
// back in the result.
func (t *Tracker) Runs(ctx context.Context, page, pageSize int) (RunsPage, error) {
	p, err := t.store.ListRunsPage(ctx, page, pageSize)
	if err != nil {
		return RunsPage{}, err
	}
	return pageFromHistory(p), nil
}

// RunRows returns the metric rows of one run in insertion order, including
// any synthetic TOTAL row. An unknown run id yields an empty slice.
func (t *Tracker) RunRows(ctx context.Context, runID int64) ([]MetricRow, error) {
	rows, err := t.store.RunRows(ctx, runID)
	if err != nil {
		return nil, err
	}
	return rowsFromHistory(rows), nil
}

// Stats summarizes the whole run history.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	st, err := t.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsFromHistory(st), nil
}

// Buckets returns run counts grouped into time buckets at the given
// granularity, oldest first, covering at most the latest limit buckets.
//
// Returns a [ValidationError] for an unknown granularity or a limit
// below 1.
func (t *Tracker) Buckets(ctx context.Context, g Granularity, limit int) ([]Bucket, error) {
	if err := validateGranularity(g); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, validationf("limit_buckets", "must be at least 1, got %d", limit)
	}
	bs, err := t.store.BucketCounts(ctx, history.Granularity(g), limit)
	if err != nil {
		return nil, err
	}
	return bucketsFromHistory(bs), nil
}

// Series returns chart geometry for the latest limit buckets at the given
// granularity, laid out in a default viewport.
//
// Use [Tracker.SeriesLayout] to control the viewport.
func (t *Tracker) Series(ctx context.Context, g Granularity, limit int) (Series, error) {
	return t.SeriesLayout(ctx, g, limit, chart.DefaultWidth, chart.DefaultHeight, chart.DefaultPadding)
}

// SeriesLayout is [Tracker.Series] with an explicit viewport: width and
// height in SVG units, with padding inset on every side.
func (t *Tracker) SeriesLayout(ctx context.Context, g Granularity, limit, width, height, padding int) (Series, error) {
	buckets, err := t.Buckets(ctx, g, limit)
	if err != nil {
		return Series{}, err
	}
	s := chart.BuildSeries(bucketsToHistory(buckets), width, height, padding)
	return seriesFromChart(s), nil
}

// Close stops the background worker and closes the underlying store.
// The tracker must not be used after Close.
func (t *Tracker) Close() error {
	t.sched.Stop()
	return t.store.Close()
}

func validateGranularity(g Granularity) error {
	switch g {
	case GranularityFiveMinute, GranularityHourly, GranularityDaily:
		return nil
	default:
		return validationf("granularity", "must be one of %q, %q, %q, got %q",
			GranularityFiveMinute, GranularityHourly, GranularityDaily, g)
	}
}
