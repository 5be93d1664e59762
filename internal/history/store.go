package history

import (
	"context"
	"fmt"
	"time"
)

// TotalRowName marks the synthetic aggregate row. Rows with this name are
// stored verbatim but excluded from item counts.
const TotalRowName = "TOTAL"

// Row is the storage representation of one metric row: an identifying name
// plus an ordered, opaque list of named values.
type Row struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field is one named value within a [Row].
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RunSummary describes one stored run as listed on history pages.
type RunSummary struct {
	ID         int64     `json:"id"`
	FetchedAt  time.Time `json:"fetched_at"`
	SubjectID  string    `json:"subject_id"`
	WindowDays int       `json:"window_days"`

	// ItemCount is the number of non-TOTAL rows in the run.
	ItemCount int `json:"item_count"`
}

// RunsPage is one page of run summaries, newest first, with the pagination
// values actually used after clamping.
type RunsPage struct {
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
	TotalRuns  int          `json:"total_runs"`
	Runs       []RunSummary `json:"runs"`
}

// Stats is an aggregate snapshot over the whole store.
type Stats struct {
	TotalRuns       int        `json:"total_runs"`
	LastRun         *time.Time `json:"last_run"`
	TotalItems      int        `json:"total_items"`
	LatestRunID     int64      `json:"latest_run_id"`
	LatestSubjectID string     `json:"latest_subject_id"`
	LatestItemCount int        `json:"latest_item_count"`
}

// Bucket is a time-truncated grouping label with its run count.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Granularity selects the width of chart buckets.
type Granularity string

const (
	GranularityFiveMinute Granularity = "5min"
	GranularityHourly     Granularity = "hourly"
	GranularityDaily      Granularity = "daily"
)

// pagination bounds applied by ListRunsPage
const (
	MinPageSize = 20
	MaxPageSize = 500
)

// Store is the append-only run history.
//
// Implementations must be safe for concurrent use: reads may race with an
// in-flight insert but must never observe a partially-written run.
type Store interface {
	// InsertRun persists a run and all its rows atomically and returns the
	// assigned run id. On failure no partial state remains.
	InsertRun(ctx context.Context, subjectID string, windowDays int, rows []Row) (int64, error)

	// CountRuns returns the number of stored runs.
	CountRuns(ctx context.Context) (int, error)

	// ListRunsPage returns one page of run summaries ordered by id
	// descending. pageSize is clamped to [MinPageSize, MaxPageSize] and
	// page to [1, last page] before use.
	ListRunsPage(ctx context.Context, page, pageSize int) (RunsPage, error)

	// RunRows returns a run's rows in insertion order. An unknown run id
	// yields an empty slice, not an error.
	RunRows(ctx context.Context, runID int64) ([]Row, error)

	// Stats returns an aggregate snapshot over the whole store.
	Stats(ctx context.Context) (Stats, error)

	// BucketCounts groups runs by truncated timestamp at the given
	// granularity, keeps the most recent limit buckets, and returns them
	// in ascending chronological order.
	BucketCounts(ctx context.Context, g Granularity, limit int) ([]Bucket, error)

	// Close releases the underlying resources.
	Close() error
}

// StoreError reports a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("history: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
