package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adtrail/adtrail"
	"github.com/adtrail/adtrail/internal/history"
)

// fakeTracker is a scriptable Tracker for handler tests.
type fakeTracker struct {
	state      adtrail.State
	runOnceID  int64
	runOnceErr error
	runsErr    error
	statsErr   error
	bucketsErr error

	started bool
	stopped bool

	lastSubject string
	lastWindow  int
}

func (f *fakeTracker) Start(context.Context) { f.started = true; f.state.Phase = adtrail.PhaseRunning }
func (f *fakeTracker) Stop()                 { f.stopped = true; f.state.Phase = adtrail.PhaseStopped }
func (f *fakeTracker) State() adtrail.State  { return f.state }

func (f *fakeTracker) RunOnce(_ context.Context, subjectID string, windowDays int) (int64, error) {
	f.lastSubject = subjectID
	f.lastWindow = windowDays
	return f.runOnceID, f.runOnceErr
}

func (f *fakeTracker) Runs(_ context.Context, page, pageSize int) (adtrail.RunsPage, error) {
	if f.runsErr != nil {
		return adtrail.RunsPage{}, f.runsErr
	}
	return adtrail.RunsPage{
		Page:       page,
		PageSize:   pageSize,
		TotalPages: 1,
		TotalRuns:  1,
		Runs: []adtrail.RunSummary{
			{ID: 1, SubjectID: "subject-1", WindowDays: 30, ItemCount: 2},
		},
	}, nil
}

func (f *fakeTracker) RunRows(_ context.Context, runID int64) ([]adtrail.MetricRow, error) {
	return []adtrail.MetricRow{
		{Name: "A", Fields: []adtrail.Field{{Name: "clicks", Value: "10"}}},
	}, nil
}

func (f *fakeTracker) Stats(context.Context) (adtrail.Stats, error) {
	if f.statsErr != nil {
		return adtrail.Stats{}, f.statsErr
	}
	return adtrail.Stats{TotalRuns: 7}, nil
}

func (f *fakeTracker) Buckets(_ context.Context, g adtrail.Granularity, limit int) ([]adtrail.Bucket, error) {
	if f.bucketsErr != nil {
		return nil, f.bucketsErr
	}
	return []adtrail.Bucket{{Label: "2026-08-30 10", Count: 3}}, nil
}

func (f *fakeTracker) Series(_ context.Context, g adtrail.Granularity, limit int) (adtrail.Series, error) {
	if f.bucketsErr != nil {
		return adtrail.Series{}, f.bucketsErr
	}
	return adtrail.Series{MaxValue: 3, Width: 900, Height: 140}, nil
}

func newTestServer(tracker Tracker) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(tracker, 0, logger)
	s.baseCtx = context.Background()
	return s
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

// TestServer_ControlRunOnce verifies the manual trigger path returns the
// new run id and forwards subject and window.
func TestServer_ControlRunOnce(t *testing.T) {
	tracker := &fakeTracker{runOnceID: 42}
	handler := newTestServer(tracker).Routes()

	rec, body := doJSON(t, handler, http.MethodPost, "/api/control",
		map[string]any{"action": "run_once", "subject_id": "subject-9", "window_days": 7})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(42), body["run_id"])
	assert.Equal(t, "subject-9", tracker.lastSubject)
	assert.Equal(t, 7, tracker.lastWindow)
}

// TestServer_ControlStartStop verifies start/stop actions flip the
// tracker and echo its state.
func TestServer_ControlStartStop(t *testing.T) {
	tracker := &fakeTracker{state: adtrail.State{Phase: adtrail.PhaseStopped}}
	handler := newTestServer(tracker).Routes()

	rec, body := doJSON(t, handler, http.MethodPost, "/api/control", map[string]any{"action": "start"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tracker.started)
	assert.Equal(t, string(adtrail.PhaseRunning), body["phase"])

	rec, body = doJSON(t, handler, http.MethodPost, "/api/control", map[string]any{"action": "stop"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tracker.stopped)
	assert.Equal(t, string(adtrail.PhaseStopped), body["phase"])
}

// TestServer_ControlUnknownAction verifies unknown actions are rejected
// with a 400 and an error envelope.
func TestServer_ControlUnknownAction(t *testing.T) {
	handler := newTestServer(&fakeTracker{}).Routes()

	rec, body := doJSON(t, handler, http.MethodPost, "/api/control", map[string]any{"action": "reboot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown action")
}

// TestServer_ControlBadBody verifies malformed JSON is a 400.
func TestServer_ControlBadBody(t *testing.T) {
	handler := newTestServer(&fakeTracker{}).Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/control", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestServer_ErrorStatusMapping verifies tracker errors map onto the
// documented statuses: 400 validation, 409 rate limit, 500 store, 502
// fetch.
func TestServer_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &adtrail.ValidationError{Field: "subject_id", Reason: "missing"}, http.StatusBadRequest},
		{"rate limit", &adtrail.RateLimitError{RetryAfter: time.Minute, Err: errors.New("429")}, http.StatusConflict},
		{"store", &history.StoreError{Op: "insert run", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{"fetch", errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := &fakeTracker{runOnceErr: tc.err}
			handler := newTestServer(tracker).Routes()

			rec, body := doJSON(t, handler, http.MethodPost, "/api/control", map[string]any{"action": "run_once"})
			assert.Equal(t, tc.want, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

// TestServer_Runs verifies the paging parameters reach the tracker and
// defaults fill the gaps.
func TestServer_Runs(t *testing.T) {
	handler := newTestServer(&fakeTracker{}).Routes()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/runs?page=3&page_size=25", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["page"])
	assert.Equal(t, float64(25), body["page_size"])

	rec, body = doJSON(t, handler, http.MethodGet, "/api/runs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(defaultPage), body["page"])
	assert.Equal(t, float64(defaultPageSize), body["page_size"])
}

// TestServer_RunRows verifies the row listing and its id parsing.
func TestServer_RunRows(t *testing.T) {
	handler := newTestServer(&fakeTracker{}).Routes()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/runs/5/rows", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), body["run_id"])
	require.NotNil(t, body["rows"])

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/runs/abc/rows", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestServer_Stats verifies the stats endpoint.
func TestServer_Stats(t *testing.T) {
	handler := newTestServer(&fakeTracker{}).Routes()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), body["total_runs"])
}

// TestServer_Series verifies the buckets-plus-geometry payload and the
// validation error path.
func TestServer_Series(t *testing.T) {
	handler := newTestServer(&fakeTracker{}).Routes()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/series?granularity=daily&limit_buckets=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body["buckets"])
	require.NotNil(t, body["series"])

	tracker := &fakeTracker{bucketsErr: &adtrail.ValidationError{Field: "granularity", Reason: "unknown"}}
	rec, body = doJSON(t, newTestServer(tracker).Routes(), http.MethodGet, "/api/series?granularity=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])
}

// TestServer_State verifies the state endpoint includes the backoff
// deadline when present.
func TestServer_State(t *testing.T) {
	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	tracker := &fakeTracker{state: adtrail.State{Phase: adtrail.PhaseBackoff, BackoffUntil: &until}}
	handler := newTestServer(tracker).Routes()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(adtrail.PhaseBackoff), body["phase"])
	assert.NotEmpty(t, body["backoff_until"])
}
