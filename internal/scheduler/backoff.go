package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter is the backoff applied when a rate-limit signal carries
// no parseable retry duration. One hour is the upstream-compatible default;
// it is deliberately wide and kept for compatibility with the sources this
// poller was built against.
const DefaultRetryAfter = 3600 * time.Second

// rate-limit markers looked for in fetch error messages
const (
	exhaustedMarker = "Resource has been exhausted"
	tooManyMarker   = "429"
)

// retryAfterPattern extracts an embedded retry duration from a free-text
// error message. Kept narrow on purpose: this is the only place the error
// text is inspected.
var retryAfterPattern = regexp.MustCompile(`Retry in (\d+) seconds`)

// RateLimitError is a fetch error classified as upstream rate limiting,
// carrying the duration to wait before polling again.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Classify inspects a fetch error for rate-limit markers.
//
// An error whose message contains a resource-exhaustion marker or an HTTP
// 429 indicator is classified as rate limiting; the retry duration is taken
// from a "Retry in N seconds" fragment when present, falling back to
// [DefaultRetryAfter]. Any other error returns nil.
func Classify(err error) *RateLimitError {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if !strings.Contains(msg, exhaustedMarker) && !strings.Contains(msg, tooManyMarker) {
		return nil
	}

	retryAfter := DefaultRetryAfter
	if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
		if seconds, convErr := strconv.Atoi(m[1]); convErr == nil {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}
	return &RateLimitError{RetryAfter: retryAfter, Err: err}
}
