package integration

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Sync Errors
// ---------------------------------------------------------------------------

var (
	// Record errors
	ErrRecordNotFound  = errors.New("integration: internal record not found")
	ErrRecordNotLinked = errors.New("integration: record is not linked")
	ErrExternalIDTaken = errors.New("integration: external id already linked to another record")
	ErrStaleSnapshot   = errors.New("integration: snapshot is older than the last applied one")

	// Run errors
	ErrRunNotFound         = errors.New("integration: sync run not found")
	ErrRunAlreadyActive    = errors.New("integration: an active sync run already exists for this stream")
	ErrInvalidTransition   = errors.New("integration: invalid sync run state transition")
	ErrArchiveNotAvailable = errors.New("integration: no archive has been stored for this run")

	// Task errors
	ErrTaskNotFound      = errors.New("integration: sync task not found")
	ErrTaskNotLeased     = errors.New("integration: sync task is not leased")
	ErrSyncAlreadyQueued = errors.New("integration: a sync task for this stream is already queued")

	// Provider errors
	ErrProviderNotRegistered = errors.New("integration: provider not registered")
)

// ---------------------------------------------------------------------------
// ErrorClass classifies provider failures for retry decisions
// ---------------------------------------------------------------------------

// ErrorClass classifies a provider failure for retry decisions
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may succeed on retry
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassRateLimited indicates the provider throttled the caller
	ErrorClassRateLimited ErrorClass = "rate_limited"
	// ErrorClassPermanent indicates a failure that retrying cannot fix
	ErrorClassPermanent ErrorClass = "permanent"
)

// IsValid returns true if the error class is valid
func (c ErrorClass) IsValid() bool {
	switch c {
	case ErrorClassTransient, ErrorClassRateLimited, ErrorClassPermanent:
		return true
	}
	return false
}

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	return string(c)
}

// Retryable returns true if failures of this class may be retried
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTransient || c == ErrorClassRateLimited
}

// ---------------------------------------------------------------------------
// ProviderError
// ---------------------------------------------------------------------------

// ProviderError wraps a failure reported by an external provider together
// with its class, so callers decide on retry without inspecting provider
// specific status codes.
type ProviderError struct {
	Provider   ProviderCode
	Class      ErrorClass
	StatusCode int
	Message    string
	// RetryAfter is the provider-mandated wait before the next attempt.
	// Zero when the provider did not supply one.
	RetryAfter time.Duration
	Err        error
}

// Error returns the error message
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("integration: provider %s returned %s (status %d): %s", e.Provider, e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("integration: provider %s returned %s: %s", e.Provider, e.Class, e.Message)
}

// Unwrap returns the underlying cause
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a ProviderError for a temporary failure
func NewTransientError(provider ProviderCode, statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Class:      ErrorClassTransient,
		StatusCode: statusCode,
		Message:    message,
		Err:        cause,
	}
}

// NewRateLimitedError creates a ProviderError for a throttled request.
// retryAfter carries the provider's Retry-After hint when present.
func NewRateLimitedError(provider ProviderCode, retryAfter time.Duration, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Class:      ErrorClassRateLimited,
		StatusCode: 429,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewPermanentError creates a ProviderError for a failure that will not
// succeed on retry, such as auth failures or malformed requests
func NewPermanentError(provider ProviderCode, statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Class:      ErrorClassPermanent,
		StatusCode: statusCode,
		Message:    message,
		Err:        cause,
	}
}

// Classify returns the error class of err. Errors that are not provider
// errors are treated as transient so that infrastructure hiccups get the
// retry budget rather than failing a run outright.
func Classify(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ErrorClassTransient
}

// IsTransient returns true if err classifies as transient
func IsTransient(err error) bool {
	return Classify(err) == ErrorClassTransient
}

// IsRateLimited returns true if err classifies as rate limited
func IsRateLimited(err error) bool {
	return Classify(err) == ErrorClassRateLimited
}

// IsPermanent returns true if err classifies as permanent
func IsPermanent(err error) bool {
	return Classify(err) == ErrorClassPermanent
}

// RetryAfterHint extracts the provider-mandated wait from err.
// Returns zero when err carries no hint.
func RetryAfterHint(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// ---------------------------------------------------------------------------
// ExhaustedRetryError
// ---------------------------------------------------------------------------

// ExhaustedRetryError reports that the retry budget for an operation ran
// out. It wraps the last provider error observed.
type ExhaustedRetryError struct {
	Attempts int
	Last     error
}

// Error returns the error message
func (e *ExhaustedRetryError) Error() string {
	return fmt.Sprintf("integration: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempted error
func (e *ExhaustedRetryError) Unwrap() error {
	return e.Last
}

// IsExhausted returns true if err is an exhausted retry error
func IsExhausted(err error) bool {
	var ee *ExhaustedRetryError
	return errors.As(err, &ee)
}
