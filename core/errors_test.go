package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ""},
		{ErrCancelled, CodeCancelled},
		{context.Canceled, CodeCancelled},
		{fmt.Errorf("wrapped: %w", ErrMaxStepsExceeded), CodeMaxSteps},
		{ErrThreadBusy, CodeThreadBusy},
		{context.DeadlineExceeded, CodeTimeout},
		{&ModelInvocationError{Model: "m", Attempts: 3, Err: errors.New("503")}, CodeModelInvocation},
		{&ModelInvocationError{Model: "m", Attempts: 1, Err: context.Canceled}, CodeCancelled},
		{&ModelInvocationError{Model: "m", Attempts: 2, Err: context.DeadlineExceeded}, CodeTimeout},
		{&CheckpointPersistError{ThreadID: "t", Err: errors.New("disk full")}, CodeCheckpoint},
		{&ToolExecutionError{Tool: "x", CallID: "c", Err: errors.New("bad")}, CodeToolExecution},
		{NewRunError(CodeInvalidArgument, "bad input"), CodeInvalidArgument},
		{errors.New("other"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeOf(tt.err), "error: %v", tt.err)
	}
}

func TestToRunError(t *testing.T) {
	assert.Nil(t, ToRunError(nil))

	re := ToRunError(&ModelInvocationError{Model: "gpt", Attempts: 3, Err: errors.New("unavailable")})
	assert.Equal(t, CodeModelInvocation, re.Code)
	assert.True(t, re.Retryable)
	assert.Contains(t, re.Message, "unavailable")

	re = ToRunError(ErrMaxStepsExceeded)
	assert.False(t, re.Retryable)

	orig := NewRunError(CodeThreadBusy, "busy")
	cp := ToRunError(orig)
	cp.Message = "changed"
	assert.Equal(t, "busy", orig.Message)
}

func TestTypedErrorsUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, &ModelInvocationError{Err: inner}, inner)
	assert.ErrorIs(t, &ToolExecutionError{Err: inner}, inner)
	assert.ErrorIs(t, &CheckpointPersistError{Err: inner}, inner)
}
