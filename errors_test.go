package automation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineErrorWrapping(t *testing.T) {
	inner := errors.New("root cause")
	abort := NewAbortError(inner)

	require.Equal(t, ErrorTypeAborted, abort.Type)
	require.ErrorIs(t, abort, inner)
	require.Contains(t, abort.Error(), "workflow_abort_error")
	require.Contains(t, abort.Error(), "root cause")
}

func TestIsValidationError(t *testing.T) {
	require.True(t, IsValidationError(NewValidationError("bad input")))
	require.True(t, IsValidationError(fmt.Errorf("wrapped: %w", NewValidationError("bad input"))))
	require.False(t, IsValidationError(NewAbortError(errors.New("boom"))))
	require.False(t, IsValidationError(errors.New("plain")))
	require.False(t, IsValidationError(nil))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"cancelled", context.Canceled, ErrorTypeCancelled},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout},
		{"timeout string", errors.New("dial tcp: i/o timeout"), ErrorTypeTimeout},
		{"plain error", errors.New("connection refused"), ErrorTypeStepFailed},
		{"already classified", NewValidationError("nope"), ErrorTypeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyError(tt.err).Type)
		})
	}
}
