package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adtrail/adtrail/internal/history"
)

// Phase is the lifecycle state of a [Scheduler].
type Phase string

const (
	PhaseStopped Phase = "stopped"
	PhaseRunning Phase = "running"
	PhaseBackoff Phase = "backoff"
)

// State is a snapshot of the scheduler's lifecycle.
type State struct {
	Phase Phase `json:"phase"`

	// BackoffUntil is set while the automatic path is suspended after a
	// rate-limit signal.
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
}

// Fetch retrieves the current metric rows for a subject. It is the external
// collaborator invoked by the poll loop and by manual triggers.
type Fetch func(ctx context.Context, subjectID string, windowDays int) ([]history.Row, error)

// Config carries the scheduler's knobs. Zero values are not defaulted here;
// the caller is expected to pass a fully-populated config.
type Config struct {
	// PollInterval is the pause between automatic runs.
	PollInterval time.Duration

	// WindowDays is the lookback window used by automatic runs.
	WindowDays int

	// SubjectID is the default subject polled automatically. When empty,
	// the loop idles without fetching.
	SubjectID string

	// Enabled gates the automatic path. A started scheduler with Enabled
	// false keeps its worker alive but idle, rechecking periodically.
	Enabled bool

	// ManualBypassesBackoff lets manual RunOnce calls proceed during a
	// backoff window. Automatic runs always respect backoff.
	ManualBypassesBackoff bool
}

// recheck cadences for the idle branches of the loop
const (
	disabledRecheck = 1 * time.Second
	backoffRecheck  = 5 * time.Second
)

// Scheduler runs the fetch-and-persist loop for one subject.
//
// All methods are safe for concurrent use. Start and Stop may be called
// repeatedly: each Start installs a fresh stop signal, so a scheduler can
// be restarted after Stop without being affected by the previous cycle.
type Scheduler struct {
	fetch  Fetch
	store  history.Store
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	started      bool
	enabled      bool
	cancel       context.CancelFunc
	backoffUntil time.Time

	// runMu serializes all fetch-and-persist sequences: competing callers
	// block until the in-flight run is durably committed.
	runMu sync.Mutex

	// now is swappable for tests
	now func() time.Time
}

// New creates a stopped [Scheduler].
func New(fetch Fetch, store history.Store, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		fetch:   fetch,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		enabled: cfg.Enabled,
		now:     time.Now,
	}
}

// Start spawns the background worker. If the scheduler is already running
// (or backing off, which is a running worker waiting out a deadline) Start
// is a no-op. The worker exits when Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	go s.run(loopCtx)
	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval.String(),
		"window_days", s.cfg.WindowDays,
		"subject_id", s.cfg.SubjectID,
	)
}

// Stop signals the worker to exit and clears any backoff deadline.
//
// Stop returns once the signal is delivered; it does not wait for a fetch
// already in flight, which runs to completion or failure on its own. Stop
// is idempotent, and a subsequent Start installs a fresh signal.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cancel()
	s.cancel = nil
	s.started = false
	s.backoffUntil = time.Time{}
	s.logger.Info("scheduler stopped")
}

// SetEnabled toggles the automatic path without touching the worker. A
// running worker picks the change up on its next recheck.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// State returns a snapshot of the scheduler's lifecycle.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return State{Phase: PhaseStopped}
	}
	if s.backoffUntil.After(s.now()) {
		until := s.backoffUntil
		return State{Phase: PhaseBackoff, BackoffUntil: &until}
	}
	return State{Phase: PhaseRunning}
}

// RunOnce performs one synchronous fetch-and-persist for the subject and
// returns the stored run id.
//
// RunOnce is the manual trigger: unless configured otherwise it bypasses an
// active backoff window, and its error (fetch or store) is surfaced to the
// caller rather than absorbed. It shares the single-flight lock with the
// automatic loop, so a concurrent automatic run blocks it (and vice versa)
// until the other run's data is committed.
func (s *Scheduler) RunOnce(ctx context.Context, subjectID string, windowDays int) (int64, error) {
	if !s.cfg.ManualBypassesBackoff {
		if until, ok := s.backoffDeadline(); ok {
			return 0, &RateLimitError{
				RetryAfter: until.Sub(s.now()),
				Err:        fmt.Errorf("scheduler is backing off until %s", until.Format(time.RFC3339)),
			}
		}
	}
	return s.runOnce(ctx, subjectID, windowDays)
}

// runOnce is the shared fetch-and-persist sequence. It never applies
// backoff state; classification happens on the automatic path only.
func (s *Scheduler) runOnce(ctx context.Context, subjectID string, windowDays int) (int64, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	rows, err := s.safeFetch(ctx, subjectID, windowDays)
	if err != nil {
		return 0, err
	}

	runID, err := s.store.InsertRun(ctx, subjectID, windowDays, rows)
	if err != nil {
		return 0, err
	}

	s.logger.Info("run persisted",
		"run_id", runID,
		"subject_id", subjectID,
		"window_days", windowDays,
		"rows", len(rows),
	)
	return runID, nil
}

// safeFetch calls the fetcher with panic recovery. A panicking fetcher is
// logged with a correlation ID and converted into an error so the loop
// survives.
func (s *Scheduler) safeFetch(ctx context.Context, subjectID string, windowDays int) (rows []history.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("fetcher panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			rows = nil
			err = fmt.Errorf("fetcher panic (correlation_id: %s)", correlationID)
		}
	}()
	return s.fetch(ctx, subjectID, windowDays)
}

// run is the worker loop. Every suspension point checks the stop signal, so
// the loop exits promptly even mid-sleep. Errors never terminate the loop.
func (s *Scheduler) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !s.isEnabled() {
			if !sleep(ctx, disabledRecheck) {
				return
			}
			continue
		}

		if _, backingOff := s.backoffDeadline(); backingOff {
			if !sleep(ctx, backoffRecheck) {
				return
			}
			continue
		}

		if s.cfg.SubjectID != "" {
			if _, err := s.runOnce(ctx, s.cfg.SubjectID, s.cfg.WindowDays); err != nil {
				s.absorb(err)
			}
		}

		if !sleep(ctx, s.cfg.PollInterval) {
			return
		}
	}
}

// absorb handles an automatic-path error: rate-limit signals become backoff
// state, everything else is logged and forgotten.
func (s *Scheduler) absorb(err error) {
	if rl := Classify(err); rl != nil {
		until := s.now().Add(rl.RetryAfter)
		s.mu.Lock()
		s.backoffUntil = until
		s.mu.Unlock()
		s.logger.Warn("rate limited, backing off",
			"retry_after", rl.RetryAfter.String(),
			"until", until.Format(time.RFC3339),
		)
		return
	}
	s.logger.Warn("automatic run failed", "error", err)
}

// backoffDeadline reports the active backoff deadline, if any.
func (s *Scheduler) backoffDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backoffUntil.After(s.now()) {
		return s.backoffUntil, true
	}
	return time.Time{}, false
}

func (s *Scheduler) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
