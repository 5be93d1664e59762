package adtrail

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// trackerConfig holds mutable state during Tracker construction.
type trackerConfig struct {
	storePath             string
	pollInterval          time.Duration
	windowDays            int
	subjectID             string
	enabled               bool
	manualBypassesBackoff bool
	logger                *slog.Logger
}

// Option is a function that configures a [Tracker] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithStorePath], [WithPollInterval], [WithWindowDays],
// [WithSubject], [WithEnabled], [WithManualBackoffBypass], [WithLogger].
type Option func(*trackerConfig) error

// WithStorePath sets the SQLite database file backing the run history.
//
// Defaults to "adtrail.db" in the working directory. The file and its
// schema are created on first use.
//
// Example:
//
//	tr, err := adtrail.New(fetch,
//	    adtrail.WithStorePath("/var/lib/adtrail/history.db"),
//	)
func WithStorePath(path string) Option {
	return func(cfg *trackerConfig) error {
		if path == "" {
			return errors.New("store path cannot be empty")
		}
		cfg.storePath = path
		return nil
	}
}

// WithPollInterval sets the pause between automatic runs.
//
// Defaults to 60 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithWindowDays sets the lookback window passed to the fetcher on
// automatic runs, and the default for manual runs that do not override it.
//
// Defaults to 30 days. Returns an error if the value is outside 1-365.
func WithWindowDays(days int) Option {
	return func(cfg *trackerConfig) error {
		if days < minWindowDays || days > maxWindowDays {
			return fmt.Errorf("window days must be between %d and %d, got %d", minWindowDays, maxWindowDays, days)
		}
		cfg.windowDays = days
		return nil
	}
}

// WithSubject sets the default subject polled automatically and used by
// manual runs that do not name one.
//
// Without a subject the background worker idles: it stays alive but never
// fetches, and manual runs must name a subject explicitly.
//
// Example:
//
//	tr, err := adtrail.New(fetch,
//	    adtrail.WithSubject("123-456-7890"),
//	)
func WithSubject(subjectID string) Option {
	return func(cfg *trackerConfig) error {
		cfg.subjectID = subjectID
		return nil
	}
}

// WithEnabled sets the initial state of the automatic polling path.
//
// Defaults to true. A tracker created disabled still accepts manual runs
// and can be enabled later with [Tracker.SetEnabled] or [Tracker.Start].
func WithEnabled(enabled bool) Option {
	return func(cfg *trackerConfig) error {
		cfg.enabled = enabled
		return nil
	}
}

// WithManualBackoffBypass controls whether manual runs may proceed while
// the tracker is backing off after a rate-limit signal.
//
// Defaults to true, matching the expectation that an operator pressing
// the button knows what they are doing. Set false to have
// [Tracker.RunOnce] return a [RateLimitError] during backoff instead.
func WithManualBackoffBypass(bypass bool) Option {
	return func(cfg *trackerConfig) error {
		cfg.manualBypassesBackoff = bypass
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Tracker instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	tr, err := adtrail.New(fetch, adtrail.WithLogger(logger))
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *trackerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}
