package sync

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrForbidden       = errors.New("access denied")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrResyncRequired  = errors.New("cursor is behind the retained log, device must re-bootstrap")
	ErrCursorNotFound  = errors.New("device cursor not found")
)

// ValidationError marks a malformed request. Never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RateLimitError is retryable after RetryAfter.
type RateLimitError struct {
	Identity   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Identity, e.RetryAfter)
}

// TransientStoreError wraps a backend failure. Safe to retry with the same op ids.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientStoreError unless it already carries a
// domain meaning.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		ae *AnomalyError
		te *TransientStoreError
	)
	if errors.As(err, &ve) || errors.As(err, &ae) || errors.As(err, &te) ||
		errors.Is(err, ErrResyncRequired) || errors.Is(err, ErrCursorNotFound) {
		return err
	}
	return &TransientStoreError{Op: op, Err: err}
}

// AnomalyKind classifies invariant violations.
type AnomalyKind string

const (
	AnomalyCursorRegression AnomalyKind = "cursor_regression"
	AnomalyCursorAhead      AnomalyKind = "cursor_ahead"
	AnomalyGCInvariant      AnomalyKind = "gc_invariant"
)

// AnomalyError is an invariant violation. Logged loudly and rejected; never
// repaired by guessing.
type AnomalyError struct {
	Kind        AnomalyKind
	WorkspaceID string
	DeviceID    string
	Detail      string
}

func (e *AnomalyError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("anomaly %s (workspace=%s, device=%s): %s", e.Kind, e.WorkspaceID, e.DeviceID, e.Detail)
	}
	return fmt.Sprintf("anomaly %s (workspace=%s): %s", e.Kind, e.WorkspaceID, e.Detail)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsAnomaly(err error) bool {
	var ae *AnomalyError
	return errors.As(err, &ae)
}

func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

// RetryAfter reports the back-off hint when err is a RateLimitError.
func RetryAfter(err error) (time.Duration, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
