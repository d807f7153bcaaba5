package ports

import (
	"errors"
	"fmt"
	"time"
)

// Common infrastructure errors surfaced by model and scoring backends.
var (
	// ErrModelNotLoaded indicates that a model operation was attempted
	// before the model finished loading.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrServiceUnavailable indicates that a remote scoring service is
	// unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that a scoring operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that a scoring backend returned a
	// response that could not be interpreted.
	ErrInvalidResponse = errors.New("invalid response")
)

// ModelError represents a failure in the model runtime or a remote
// scoring backend. It identifies the model and operation so batch logs
// and endpoint responses can summarize the failure without exposing
// backend internals.
type ModelError struct {
	// Model is the identifier of the model involved in the failure.
	Model string

	// Operation is the name of the operation that failed.
	Operation string

	// Err is the underlying error.
	Err error

	// RetryAfter indicates how long to wait before retrying, if the
	// backend supplied that information.
	RetryAfter *time.Duration
}

// Error implements the error interface for ModelError.
func (e *ModelError) Error() string {
	msg := fmt.Sprintf("model error: model=%s, operation=%s, err=%v", e.Model, e.Operation, e.Err)
	if e.RetryAfter != nil {
		msg += fmt.Sprintf(", retry_after=%v", *e.RetryAfter)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ModelError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient. Only
// service-level failures are retryable; tokenization and input errors
// are not.
func (e *ModelError) IsRetryable() bool {
	return errors.Is(e.Err, ErrServiceUnavailable) || errors.Is(e.Err, ErrTimeout)
}

// NewModelError creates a new ModelError with the given details.
func NewModelError(model, operation string, err error) *ModelError {
	return &ModelError{
		Model:     model,
		Operation: operation,
		Err:       err,
	}
}
