package adtrail

import (
	"time"

	"github.com/adtrail/adtrail/internal/chart"
	"github.com/adtrail/adtrail/internal/history"
	"github.com/adtrail/adtrail/internal/scheduler"
)

// Granularity selects the time-bucket width for [Tracker.Buckets] and
// [Tracker.Series].
type Granularity string

const (
	// GranularityFiveMinute groups runs into five-minute buckets.
	GranularityFiveMinute Granularity = "5min"

	// GranularityHourly groups runs into hourly buckets.
	GranularityHourly Granularity = "hourly"

	// GranularityDaily groups runs into daily buckets.
	GranularityDaily Granularity = "daily"
)

// Phase is the lifecycle state of a [Tracker].
type Phase string

const (
	// PhaseStopped means no background worker is running.
	PhaseStopped Phase = "stopped"

	// PhaseRunning means the background worker is polling.
	PhaseRunning Phase = "running"

	// PhaseBackoff means the worker is alive but suspended until a
	// rate-limit deadline passes.
	PhaseBackoff Phase = "backoff"
)

// State is a snapshot of a tracker's lifecycle.
type State struct {
	Phase Phase `json:"phase"`

	// BackoffUntil is non-nil while the automatic path is suspended.
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
}

// RunSummary describes one stored run without its rows.
type RunSummary struct {
	ID         int64     `json:"id"`
	FetchedAt  time.Time `json:"fetched_at"`
	SubjectID  string    `json:"subject_id"`
	WindowDays int       `json:"window_days"`

	// ItemCount is the number of metric rows in the run, excluding the
	// synthetic TOTAL row.
	ItemCount int `json:"item_count"`
}

// RunsPage is one page of run summaries, newest first.
type RunsPage struct {
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
	TotalRuns  int          `json:"total_runs"`
	Runs       []RunSummary `json:"runs"`
}

// Stats summarizes the whole run history.
type Stats struct {
	TotalRuns       int        `json:"total_runs"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	TotalItems      int        `json:"total_items"`
	LatestRunID     int64      `json:"latest_run_id"`
	LatestSubjectID string     `json:"latest_subject_id"`
	LatestItemCount int        `json:"latest_item_count"`
}

// Bucket is a count of runs within one time bucket.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Point is one vertex of a [Series] polyline.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dot is a labelled marker on a [Series].
type Dot struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
	Count int     `json:"count"`
}

// Series is line-chart geometry for a sequence of buckets, sized for an
// SVG viewport.
type Series struct {
	Points     []Point `json:"points"`
	Dots       []Dot   `json:"dots"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	StartLabel string  `json:"start_label"`
	EndLabel   string  `json:"end_label"`
	MaxValue   int     `json:"max_value"`
}

// RateLimitError reports that a run was refused because the tracker is
// inside a backoff window.
type RateLimitError struct {
	// RetryAfter is how long until the backoff window closes.
	RetryAfter time.Duration

	Err error
}

func (e *RateLimitError) Error() string {
	return "rate limited (retry after " + e.RetryAfter.String() + "): " + e.Err.Error()
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// conversions between the public API types and the internal packages

func rowsToHistory(rows []MetricRow) []history.Row {
	out := make([]history.Row, len(rows))
	for i, r := range rows {
		fields := make([]history.Field, len(r.Fields))
		for j, f := range r.Fields {
			fields[j] = history.Field{Name: f.Name, Value: f.Value}
		}
		out[i] = history.Row{Name: r.Name, Fields: fields}
	}
	return out
}

func rowsFromHistory(rows []history.Row) []MetricRow {
	out := make([]MetricRow, len(rows))
	for i, r := range rows {
		fields := make([]Field, len(r.Fields))
		for j, f := range r.Fields {
			fields[j] = Field{Name: f.Name, Value: f.Value}
		}
		out[i] = MetricRow{Name: r.Name, Fields: fields}
	}
	return out
}

func summaryFromHistory(rs history.RunSummary) RunSummary {
	return RunSummary{
		ID:         rs.ID,
		FetchedAt:  rs.FetchedAt,
		SubjectID:  rs.SubjectID,
		WindowDays: rs.WindowDays,
		ItemCount:  rs.ItemCount,
	}
}

func pageFromHistory(p history.RunsPage) RunsPage {
	runs := make([]RunSummary, len(p.Runs))
	for i, rs := range p.Runs {
		runs[i] = summaryFromHistory(rs)
	}
	return RunsPage{
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages,
		TotalRuns:  p.TotalRuns,
		Runs:       runs,
	}
}

func statsFromHistory(st history.Stats) Stats {
	return Stats{
		TotalRuns:       st.TotalRuns,
		LastRun:         st.LastRun,
		TotalItems:      st.TotalItems,
		LatestRunID:     st.LatestRunID,
		LatestSubjectID: st.LatestSubjectID,
		LatestItemCount: st.LatestItemCount,
	}
}

func bucketsFromHistory(bs []history.Bucket) []Bucket {
	out := make([]Bucket, len(bs))
	for i, b := range bs {
		out[i] = Bucket{Label: b.Label, Count: b.Count}
	}
	return out
}

func bucketsToHistory(bs []Bucket) []history.Bucket {
	out := make([]history.Bucket, len(bs))
	for i, b := range bs {
		out[i] = history.Bucket{Label: b.Label, Count: b.Count}
	}
	return out
}

func seriesFromChart(s chart.Series) Series {
	points := make([]Point, len(s.Points))
	for i, p := range s.Points {
		points[i] = Point{X: p.X, Y: p.Y}
	}
	dots := make([]Dot, len(s.Dots))
	for i, d := range s.Dots {
		dots[i] = Dot{X: d.X, Y: d.Y, Label: d.Label, Count: d.Count}
	}
	return Series{
		Points:     points,
		Dots:       dots,
		Width:      s.Width,
		Height:     s.Height,
		StartLabel: s.StartLabel,
		EndLabel:   s.EndLabel,
		MaxValue:   s.MaxValue,
	}
}

func stateFromScheduler(st scheduler.State) State {
	return State{Phase: Phase(st.Phase), BackoffUntil: st.BackoffUntil}
}
