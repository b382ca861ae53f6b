// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: New(ErrQueueFull, "queue is full"),
			want:     "[QUEUE_FULL] queue is full",
		},
		{
			name:     "error with underlying error",
			appError: Wrap(ErrStorage, "write failed", errors.New("disk full")),
			want:     "[STORAGE_ERROR] write failed: disk full",
		},
		{
			name:     "formatted message",
			appError: Newf(ErrUnknownOperation, "no remote effect for %q", "refund"),
			want:     `[UNKNOWN_OPERATION] no remote effect for "refund"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

// TestAppError_Unwrap verifies wrapped errors stay reachable.
func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(ErrTransport, "dial failed", inner)

	assert.ErrorIs(t, err, inner)
	assert.Nil(t, New(ErrInternal, "x").Unwrap())
}

// TestIs verifies code matching across wrapping layers.
func TestIs(t *testing.T) {
	base := New(ErrRetryExhausted, "gave up")
	wrapped := fmt.Errorf("sync: %w", base)
	nested := Wrap(ErrSyncFailed, "run failed", wrapped)

	assert.True(t, Is(base, ErrRetryExhausted))
	assert.True(t, Is(wrapped, ErrRetryExhausted))
	assert.True(t, Is(nested, ErrSyncFailed))
	assert.True(t, Is(nested, ErrRetryExhausted))
	assert.False(t, Is(nested, ErrQueueFull))
	assert.False(t, Is(errors.New("plain"), ErrInternal))
	assert.False(t, Is(nil, ErrInternal))
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrInvalidDelta, CodeOf(fmt.Errorf("apply: %w", New(ErrInvalidDelta, "negative"))))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
}
