package adtrail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TotalRowName is the sentinel row name marking a synthetic aggregate row.
// Rows carrying this name are stored like any other row but are excluded
// from per-run item counts.
const TotalRowName = "TOTAL"

// Field is one named value within a [MetricRow]. Values are kept as strings;
// adtrail stores and returns them verbatim without interpreting units or
// currencies.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MetricRow is one line item belonging to a run (e.g. one campaign).
//
// The payload is opaque to adtrail: an ordered list of named fields produced
// by the fetcher. The only convention is the Name field, which identifies
// the row and marks aggregate rows via [TotalRowName].
type MetricRow struct {
	// Name identifies the row, typically a campaign name.
	Name string `json:"name"`

	// Fields is the ordered set of values for the row.
	Fields []Field `json:"fields"`
}

// FieldValue returns the value of the named field and whether it is present.
func (r MetricRow) FieldValue(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// IsTotal reports whether the row is the synthetic aggregate row.
func (r MetricRow) IsTotal() bool {
	return r.Name == TotalRowName
}

// FetchFunc retrieves the current metric rows for a subject over a lookback
// window of windowDays days.
//
// FetchFunc is the external collaborator boundary: adtrail decides when to
// call it and what to do with the result, but never interprets the rows.
// Implementations should honor ctx cancellation. Errors are returned to
// manual callers as-is; on the automatic poll path they are logged, and
// rate-limit errors (a message containing a resource-exhaustion marker or
// "429") place the scheduler into backoff.
type FetchFunc func(ctx context.Context, subjectID string, windowDays int) ([]MetricRow, error)

// maxSourceBodySize limits how much of a source response is read.
const maxSourceBodySize = 1 << 20 // 1MB

// connection pooling limits for the HTTP fetcher
const (
	fetcherMaxIdleConns        = 100
	fetcherMaxIdleConnsPerHost = 10
	fetcherMaxConnsPerHost     = 10
	fetcherIdleConnTimeout     = 60 * time.Second
)

// NewHTTPFetcher returns a [FetchFunc] that pulls rows as JSON from an HTTP
// source.
//
// The source is expected to respond to GET requests with a JSON array of
// [MetricRow] objects. The subject and window are passed as the query
// parameters "subject_id" and "window_days". Custom headers (e.g. an
// Authorization token) are sent with every request. The per-request timeout
// is applied via context; pass zero to use the caller's context deadline
// alone.
//
// This is the fetcher used by the adtrail CLI; SDK consumers are free to
// supply any FetchFunc instead.
func NewHTTPFetcher(sourceURL string, headers map[string]string, timeout time.Duration) FetchFunc {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        fetcherMaxIdleConns,
			MaxIdleConnsPerHost: fetcherMaxIdleConnsPerHost,
			MaxConnsPerHost:     fetcherMaxConnsPerHost,
			IdleConnTimeout:     fetcherIdleConnTimeout,
		},
	}

	return func(ctx context.Context, subjectID string, windowDays int) ([]MetricRow, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create source request: %w", err)
		}

		q := req.URL.Query()
		q.Set("subject_id", subjectID)
		q.Set("window_days", fmt.Sprintf("%d", windowDays))
		req.URL.RawQuery = q.Encode()

		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("source request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBodySize))
		if err != nil {
			return nil, fmt.Errorf("failed to read source response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			// include the status line so rate-limit responses ("429") are
			// classifiable by the backoff controller
			return nil, fmt.Errorf("source returned %s: %s", resp.Status, truncate(body, 200))
		}

		var rows []MetricRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode source response: %w", err)
		}
		return rows, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
