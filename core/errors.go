package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies run failures on the wire.
type ErrorCode string

const (
	CodeModelInvocation ErrorCode = "MODEL_INVOCATION"
	CodeToolExecution   ErrorCode = "TOOL_EXECUTION"
	CodeMaxSteps        ErrorCode = "MAX_STEPS_EXCEEDED"
	CodeCheckpoint      ErrorCode = "CHECKPOINT_PERSIST"
	CodeCancelled       ErrorCode = "CANCELLED"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeThreadBusy      ErrorCode = "THREAD_BUSY"
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	CodeInternal        ErrorCode = "INTERNAL"
)

// retryable lists the codes a caller may resubmit on the same thread without
// changing its input.
var retryable = map[ErrorCode]bool{
	CodeModelInvocation: true,
	CodeCheckpoint:      true,
	CodeTimeout:         true,
	CodeThreadBusy:      true,
}

var (
	// ErrMaxStepsExceeded is returned when a run exceeds its step cap.
	ErrMaxStepsExceeded = errors.New("max steps exceeded")
	// ErrCancelled is returned when a run was cancelled externally.
	ErrCancelled = errors.New("run cancelled")
	// ErrThreadBusy is returned when a thread already has an active run.
	ErrThreadBusy = errors.New("thread has an active run")
	// ErrTimeout is returned when a model or tool call exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// ModelInvocationError is a transport or provider failure of the model that
// persisted after all retry attempts.
type ModelInvocationError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a handler failure or an argument validation error.
// It never aborts a run; its text becomes the content of the tool message.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s) failed: %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// CheckpointPersistError reports a failed checkpoint write. Previously
// committed checkpoints are left untouched.
type CheckpointPersistError struct {
	ThreadID string
	Err      error
}

func (e *CheckpointPersistError) Error() string {
	return fmt.Sprintf("persist checkpoint for thread %s: %v", e.ThreadID, e.Err)
}

func (e *CheckpointPersistError) Unwrap() error { return e.Err }

// RunError is the wire representation of a run failure.
type RunError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *RunError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// NewRunError builds a RunError with the default retry attribute of code.
func NewRunError(code ErrorCode, msg string) *RunError {
	return &RunError{Code: code, Message: msg, Retryable: retryable[code]}
}

// CodeOf classifies err. Cancellation is checked first so that a model call
// aborted by cancellation reports CANCELLED rather than MODEL_INVOCATION.
func CodeOf(err error) ErrorCode {
	var (
		runErr   *RunError
		modelErr *ModelInvocationError
		toolErr  *ToolExecutionError
		cpErr    *CheckpointPersistError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &runErr):
		return runErr.Code
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrMaxStepsExceeded):
		return CodeMaxSteps
	case errors.Is(err, ErrThreadBusy):
		return CodeThreadBusy
	case errors.As(err, &cpErr):
		return CodeCheckpoint
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &modelErr):
		return CodeModelInvocation
	case errors.As(err, &toolErr):
		return CodeToolExecution
	default:
		return CodeInternal
	}
}

// ToRunError maps any error to its wire representation.
func ToRunError(err error) *RunError {
	if err == nil {
		return nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		cp := *runErr
		return &cp
	}
	return NewRunError(CodeOf(err), err.Error())
}
