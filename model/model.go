package model

import (
	"context"

	"github.com/shapeshift/agentic-chat/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the model input produced by the control loop. Instructions
// are prepended as a system prompt by each provider and never enter the log.
type Request struct {
	Instructions string           `json:"instructions,omitempty"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a partial or final item emitted by Generate.
//
// Partial responses carry a content Delta for the message identified by ID.
// Exactly one non-partial response is emitted per successful invocation; its
// Message is the authoritative assistant message and shares the same ID.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Delta        string       `json:"delta,omitempty"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "gemini", "scripted"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the control loop to drive
// generation. Both channels are closed when generation finishes; at most one
// error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// FinalMessage builds the assistant message emitted as the final response.
// Providers call it so that empty ids are replaced and roles are normalised.
func FinalMessage(id, content string, calls []core.ToolCall) core.Message {
	if id == "" {
		id = core.NewID()
	}
	return core.Message{ID: id, Role: core.RoleAssistant, Content: content, ToolCalls: calls}
}

// Deliver sends resp on out unless ctx is done first, in which case ctx.Err()
// goes to errCh instead. It reports whether resp was delivered. errCh must
// have room for the error.
func Deliver(ctx context.Context, out chan<- Response, errCh chan<- error, resp Response) bool {
	select {
	case out <- resp:
		return true
	case <-ctx.Done():
		errCh <- ctx.Err()
		return false
	}
}
