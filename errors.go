package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error type constants for classification and matching
const (
	// ErrorTypeValidation covers unknown workflows or triggers, invalid cron
	// expressions, and malformed webhook requests. Surfaced synchronously to
	// the caller and never retried.
	ErrorTypeValidation = "validation_error"

	// ErrorTypeStepFailed indicates an action dispatch returned an error.
	// Retried locally per the step's retry budget, then handled by the
	// step's on_error policy.
	ErrorTypeStepFailed = "step_execution_error"

	// ErrorTypeAborted indicates an on_error=fail step or an uncaught error
	// in the engine loop terminated the execution.
	ErrorTypeAborted = "workflow_abort_error"

	// ErrorTypeTimeout indicates the stale-execution reaper force-terminated
	// the execution, or a per-step deadline elapsed.
	ErrorTypeTimeout = "timeout_error"

	// ErrorTypeCancelled indicates an explicit cancel call.
	ErrorTypeCancelled = "cancelled_error"
)

// EngineError is a structured error with classification. It supports Go's
// error wrapping patterns with Unwrap().
type EngineError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

func (e *EngineError) Unwrap() error {
	return e.Wrapped
}

// NewValidationError returns an EngineError of type validation_error.
func NewValidationError(cause string) *EngineError {
	return &EngineError{Type: ErrorTypeValidation, Cause: cause}
}

// NewAbortError wraps a step failure that terminates the whole execution.
func NewAbortError(err error) *EngineError {
	return &EngineError{Type: ErrorTypeAborted, Cause: err.Error(), Wrapped: err}
}

// IsValidationError reports whether err is (or wraps) a validation error.
func IsValidationError(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type == ErrorTypeValidation
	}
	return false
}

// ClassifyError classifies a regular error into an EngineError.
func ClassifyError(err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	if errors.Is(err, context.Canceled) {
		return &EngineError{Type: ErrorTypeCancelled, Cause: err.Error(), Wrapped: err}
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &EngineError{Type: ErrorTypeTimeout, Cause: err.Error(), Wrapped: err}
	}
	// Default to a step execution error: unknown errors stay retryable.
	return &EngineError{Type: ErrorTypeStepFailed, Cause: err.Error(), Wrapped: err}
}
