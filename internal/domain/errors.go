package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the service taxonomy. Handlers map these to HTTP
// statuses; everything else is an internal error.
var (
	// ErrNotFound means no matching resource exists (404).
	ErrNotFound = errors.New("not found")

	// ErrLimitExceeded means the user already holds the maximum number of
	// subscriptions (403).
	ErrLimitExceeded = errors.New("subscription limit reached")

	// ErrUnauthorized means the bearer credential is missing, expired or
	// malformed (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoData means the upstream returned a well-formed response with no
	// stop visits. A legitimate empty answer, not a failure.
	ErrNoData = errors.New("no prediction data available")

	// ErrNoArrivalTime means a stop visit exists but carries no expected
	// arrival time. Distinct from ErrNoData for logging, identical to the
	// caller (both are "not found").
	ErrNoArrivalTime = errors.New("no expected arrival time available")

	// ErrUpstreamBudget means the per-route request budget for the upstream
	// API is exhausted and the call was not attempted.
	ErrUpstreamBudget = errors.New("upstream request budget exceeded")
)

// ValidationError reports bad input before any side effect happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UpstreamError wraps a transport-level failure from the transit API after
// retries are exhausted. Callers degrade to "no data" rather than surfacing
// a 500.
type UpstreamError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ChannelError wraps a failure from the notification channel provider.
// Channel failures are best-effort relative to the subscription record:
// they must never corrupt the data model.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
