// Package retry classifies step dispatch errors for the engine's retry loop.
// Unknown errors are recoverable by default so transient action failures get
// their full retry budget; an action opts out by returning a NonRecoverable
// error.
package retry

import (
	"context"
	"errors"
)

// RecoverableError lets an error carry its own retry classification.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a step error is worth retrying. Explicit
// classifications win; cancellation is never retried; everything else is
// retried by default.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string       { return e.err.Error() }
func (e *recoverableError) IsRecoverable() bool { return true }
func (e *recoverableError) Unwrap() error       { return e.err }

// Recoverable marks an error as explicitly retryable.
func Recoverable(err error) RecoverableError {
	return &recoverableError{err: err}
}

// NonRecoverableError marks an error that should not be retried, such as a
// permanently invalid step configuration.
type NonRecoverableError struct {
	err error
}

func (e *NonRecoverableError) Error() string       { return e.err.Error() }
func (e *NonRecoverableError) IsRecoverable() bool { return false }
func (e *NonRecoverableError) Unwrap() error       { return e.err }

// NonRecoverable marks an error as not retryable.
func NonRecoverable(err error) *NonRecoverableError {
	return &NonRecoverableError{err: err}
}
