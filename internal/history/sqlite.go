package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is the stored timestamp format. Second precision, lexically
// sortable, and sliceable with substr() for bucket labels.
const timeLayout = "2006-01-02 15:04:05"

// SQLiteStore implements [Store] on a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// now is swappable for tests
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for an in-memory database.
//
// The database is opened with foreign keys enforced and WAL journaling, so
// readers are not blocked by the single writer.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &StoreError{Op: "migrate", Err: err}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fetched_at TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		window_days INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metric_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_fetched_at ON runs(fetched_at);
	CREATE INDEX IF NOT EXISTS idx_metric_rows_run_id ON metric_rows(run_id);
	CREATE INDEX IF NOT EXISTS idx_metric_rows_name ON metric_rows(name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// InsertRun persists the run and all its rows in a single transaction.
func (s *SQLiteStore) InsertRun(ctx context.Context, subjectID string, windowDays int, rows []Row) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StoreError{Op: "insert run", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO runs (fetched_at, subject_id, window_days) VALUES (?, ?, ?)",
		s.now().Format(timeLayout), subjectID, windowDays,
	)
	if err != nil {
		return 0, &StoreError{Op: "insert run", Err: err}
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, &StoreError{Op: "insert run", Err: err}
	}

	for _, row := range rows {
		fieldsJSON, err := json.Marshal(row.Fields)
		if err != nil {
			return 0, &StoreError{Op: "encode row", Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO metric_rows (run_id, name, fields_json) VALUES (?, ?, ?)",
			runID, row.Name, string(fieldsJSON),
		); err != nil {
			return 0, &StoreError{Op: "insert row", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "commit run", Err: err}
	}
	return runID, nil
}

// CountRuns returns the number of stored runs.
func (s *SQLiteStore) CountRuns(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count)
	if err != nil {
		return 0, &StoreError{Op: "count runs", Err: err}
	}
	return count, nil
}

// ListRunsPage returns one page of run summaries, newest first. Item counts
// exclude the TOTAL row.
func (s *SQLiteStore) ListRunsPage(ctx context.Context, page, pageSize int) (RunsPage, error) {
	if pageSize < MinPageSize {
		pageSize = MinPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	totalRuns, err := s.CountRuns(ctx)
	if err != nil {
		return RunsPage{}, err
	}
	totalPages := (totalRuns + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT runs.id, runs.fetched_at, runs.subject_id, runs.window_days,
		       COALESCE(SUM(CASE WHEN metric_rows.name = ? THEN 0 ELSE 1 END), 0)
		         AS item_count
		FROM runs
		LEFT JOIN metric_rows ON metric_rows.run_id = runs.id
		GROUP BY runs.id
		ORDER BY runs.id DESC
		LIMIT ? OFFSET ?`,
		TotalRowName, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return RunsPage{}, &StoreError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	result := RunsPage{
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalRuns:  totalRuns,
		Runs:       []RunSummary{},
	}
	for rows.Next() {
		var (
			sum       RunSummary
			fetchedAt string
		)
		if err := rows.Scan(&sum.ID, &fetchedAt, &sum.SubjectID, &sum.WindowDays, &sum.ItemCount); err != nil {
			return RunsPage{}, &StoreError{Op: "scan run", Err: err}
		}
		sum.FetchedAt, _ = time.Parse(timeLayout, fetchedAt)
		result.Runs = append(result.Runs, sum)
	}
	if err := rows.Err(); err != nil {
		return RunsPage{}, &StoreError{Op: "list runs", Err: err}
	}
	return result, nil
}

// RunRows returns a run's rows in insertion order.
func (s *SQLiteStore) RunRows(ctx context.Context, runID int64) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, fields_json FROM metric_rows WHERE run_id = ? ORDER BY id ASC",
		runID,
	)
	if err != nil {
		return nil, &StoreError{Op: "load rows", Err: err}
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		var (
			row        Row
			fieldsJSON string
		)
		if err := rows.Scan(&row.Name, &fieldsJSON); err != nil {
			return nil, &StoreError{Op: "scan row", Err: err}
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &row.Fields); err != nil {
			return nil, &StoreError{Op: "decode row", Err: err}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "load rows", Err: err}
	}
	return result, nil
}

// Stats returns an aggregate snapshot over the whole store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var (
		stats   Stats
		lastRun sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MAX(fetched_at) FROM runs",
	).Scan(&stats.TotalRuns, &lastRun)
	if err != nil {
		return Stats{}, &StoreError{Op: "stats", Err: err}
	}
	if lastRun.Valid {
		t, err := time.Parse(timeLayout, lastRun.String)
		if err == nil {
			stats.LastRun = &t
		}
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM metric_rows WHERE name != ?", TotalRowName,
	).Scan(&stats.TotalItems)
	if err != nil {
		return Stats{}, &StoreError{Op: "stats", Err: err}
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT id, subject_id FROM runs ORDER BY id DESC LIMIT 1",
	).Scan(&stats.LatestRunID, &stats.LatestSubjectID)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return Stats{}, &StoreError{Op: "stats", Err: err}
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM metric_rows WHERE run_id = ? AND name != ?",
		stats.LatestRunID, TotalRowName,
	).Scan(&stats.LatestItemCount)
	if err != nil {
		return Stats{}, &StoreError{Op: "stats", Err: err}
	}
	return stats, nil
}

// bucketExpr returns the SQL expression computing the bucket label for a
// granularity over the stored timestamp text.
func bucketExpr(g Granularity) (string, error) {
	switch g {
	case GranularityDaily:
		return "substr(fetched_at, 1, 10)", nil
	case GranularityHourly:
		return "substr(fetched_at, 1, 13)", nil
	case GranularityFiveMinute:
		// floor the minute field to its 5-minute boundary
		return "substr(fetched_at, 1, 14) || printf('%02d', (CAST(substr(fetched_at, 15, 2) AS INTEGER) / 5) * 5)", nil
	default:
		return "", fmt.Errorf("unknown granularity %q", g)
	}
}

// BucketCounts groups runs by truncated timestamp, keeps the latest limit
// buckets and returns them oldest first.
func (s *SQLiteStore) BucketCounts(ctx context.Context, g Granularity, limit int) ([]Bucket, error) {
	expr, err := bucketExpr(g)
	if err != nil {
		return nil, &StoreError{Op: "bucket counts", Err: err}
	}

	query := fmt.Sprintf(`
		SELECT %s AS bucket, COUNT(*) AS runs
		FROM runs
		GROUP BY bucket
		ORDER BY bucket DESC
		LIMIT ?`, expr)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, &StoreError{Op: "bucket counts", Err: err}
	}
	defer rows.Close()

	buckets := []Bucket{}
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, &StoreError{Op: "scan bucket", Err: err}
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "bucket counts", Err: err}
	}

	// query returns newest first; charts want ascending time
	for i, j := 0, len(buckets)-1; i < j; i, j = i+1, j-1 {
		buckets[i], buckets[j] = buckets[j], buckets[i]
	}
	return buckets, nil
}
