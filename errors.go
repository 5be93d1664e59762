package adtrail

import "fmt"

// ValidationError reports a rejected input at the control surface (a bad
// page, window, granularity or subject). It is always surfaced to the
// caller synchronously and is never retried.
type ValidationError struct {
	// Field names the rejected input.
	Field string

	// Reason describes why the input was rejected.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// validationf builds a *ValidationError for a field.
func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
