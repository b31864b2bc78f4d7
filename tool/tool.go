// Package tool implements the tool registry of the control loop: tools are
// registered explicitly on a Registry which validates arguments against each
// tool's schema, executes it and normalises its outcome into a tool result.
package tool

import (
	"encoding/json"
	"fmt"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/internal/util"
)

// Tool defines a capability the model can invoke by name.
//
// Implementations must be safe for concurrent use: the executor may run
// several calls of the same tool in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is provided to the model to help it decide when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already decoded arguments. The returned
	// value is either a Result or plain content.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Result lets a tool return a side-channel artifact next to its content.
// Content is fed back to the model; Artifact is only visible to clients.
type Result struct {
	Content  any
	Artifact any
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes used by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodePanic      = "PANIC"
	CodeTimeout    = "TIMEOUT"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// ErrorResult renders a failure as the tool result fed back to the model.
func ErrorResult(err error) core.ToolResult {
	msg := err.Error()
	if te, ok := err.(*ToolError); ok {
		msg = te.Message
	}
	return core.ToolResult{
		Content: fmt.Sprintf("Error: %s\n Please fix your mistakes.", msg),
		IsError: true,
	}
}

// NormalizeResult converts a tool return value into a core.ToolResult.
// Strings are used verbatim, anything else is JSON encoded.
func NormalizeResult(v any) (core.ToolResult, error) {
	var (
		out      core.ToolResult
		content  = v
		artifact any
	)
	switch r := v.(type) {
	case Result:
		content, artifact = r.Content, r.Artifact
	case *Result:
		if r != nil {
			content, artifact = r.Content, r.Artifact
		}
	}

	switch c := content.(type) {
	case nil:
	case string:
		out.Content = c
	case []byte:
		out.Content = string(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return core.ToolResult{}, fmt.Errorf("encode tool content: %w", err)
		}
		out.Content = string(b)
	}

	if artifact != nil {
		b, err := json.Marshal(artifact)
		if err != nil {
			return core.ToolResult{}, fmt.Errorf("encode tool artifact: %w", err)
		}
		out.Artifact = b
	}

	return out, nil
}
