package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/adtrail/adtrail"
	"github.com/adtrail/adtrail/internal/history"
)

const shutdownTimeout = 5 * time.Second

// query parameter defaults
const (
	defaultPage         = 1
	defaultPageSize     = 50
	defaultGranularity  = adtrail.GranularityHourly
	defaultLimitBuckets = 48
)

// Tracker is the subset of the tracker API the HTTP layer needs.
type Tracker interface {
	Start(ctx context.Context)
	Stop()
	State() adtrail.State
	RunOnce(ctx context.Context, subjectID string, windowDays int) (int64, error)
	Runs(ctx context.Context, page, pageSize int) (adtrail.RunsPage, error)
	RunRows(ctx context.Context, runID int64) ([]adtrail.MetricRow, error)
	Stats(ctx context.Context) (adtrail.Stats, error)
	Buckets(ctx context.Context, g adtrail.Granularity, limit int) ([]adtrail.Bucket, error)
	Series(ctx context.Context, g adtrail.Granularity, limit int) (adtrail.Series, error)
}

// Server handles HTTP requests for tracker control and history queries.
//
// Endpoints:
//   - POST /api/control: start/stop the poller or trigger a manual run
//   - GET  /api/runs: paginated run summaries, newest first
//   - GET  /api/runs/{id}/rows: the metric rows of one run
//   - GET  /api/stats: whole-history summary
//   - GET  /api/series: bucketed counts plus chart geometry
//   - GET  /api/state: scheduler phase and backoff deadline
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	tracker    Tracker
	port       int
	httpServer *http.Server
	logger     *slog.Logger

	// baseCtx is the context Start was called with; control-plane "start"
	// requests launch the poller under it so the poller outlives the
	// request but not the server.
	baseCtx context.Context
}

// NewServer creates a new HTTP [Server]. It is not started until
// [Server.Start] is called.
func NewServer(tracker Tracker, port int, logger *slog.Logger) *Server {
	return &Server{
		tracker: tracker,
		port:    port,
		logger:  logger,
	}
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the
// server is listening. The server runs until the context is cancelled, at
// which point it initiates a graceful shutdown with a 5-second timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: s.Routes(),
		// BaseContext derives all request contexts from the server context,
		// so cancelling ctx also cancels in-flight requests.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", addr)
	return nil
}

// Routes builds the chi router with the full middleware stack. It is
// exported so tests can drive handlers through httptest without binding
// a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/control", s.handleControl)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}/rows", s.handleRunRows)
		r.Get("/stats", s.handleStats)
		r.Get("/series", s.handleSeries)
		r.Get("/state", s.handleState)
	})

	return r
}

// controlRequest is the body of POST /api/control.
type controlRequest struct {
	Action     string `json:"action"`
	SubjectID  string `json:"subject_id,omitempty"`
	WindowDays int    `json:"window_days,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	switch req.Action {
	case "start":
		s.tracker.Start(s.baseCtx)
		s.writeJSON(w, http.StatusOK, s.tracker.State())

	case "stop":
		s.tracker.Stop()
		s.writeJSON(w, http.StatusOK, s.tracker.State())

	case "run_once":
		runID, err := s.tracker.RunOnce(r.Context(), req.SubjectID, req.WindowDays)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID})

	default:
		s.writeErrorStatus(w, http.StatusBadRequest,
			fmt.Errorf("unknown action %q (want start, stop or run_once)", req.Action))
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", defaultPage)
	pageSize := queryInt(r, "page_size", defaultPageSize)

	runs, err := s.tracker.Runs(r.Context(), page, pageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunRows(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
		return
	}

	rows, err := s.tracker.RunRows(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "rows": rows})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	g := adtrail.Granularity(r.URL.Query().Get("granularity"))
	if g == "" {
		g = defaultGranularity
	}
	limit := queryInt(r, "limit_buckets", defaultLimitBuckets)

	buckets, err := s.tracker.Buckets(r.Context(), g, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	series, err := s.tracker.Series(r.Context(), g, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets, "series": series})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.State())
}

// writeError maps tracker errors onto HTTP statuses: validation failures
// are the client's fault, rate limiting is a conflict with scheduler
// state, store failures are internal, and anything else is a failed
// upstream fetch.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *adtrail.ValidationError
		rateLimitErr  *adtrail.RateLimitError
		storeErr      *history.StoreError
	)
	switch {
	case errors.As(err, &validationErr):
		s.writeErrorStatus(w, http.StatusBadRequest, err)
	case errors.As(err, &rateLimitErr):
		s.writeErrorStatus(w, http.StatusConflict, err)
	case errors.As(err, &storeErr):
		s.writeErrorStatus(w, http.StatusInternalServerError, err)
	default:
		s.writeErrorStatus(w, http.StatusBadGateway, err)
	}
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
