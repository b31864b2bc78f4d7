package core

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Role discriminates the kind of a Message.
type Role string

const (
	// RoleUser marks a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of a tool execution.
	RoleTool Role = "tool"
	// RoleSystem marks instructions that are never surfaced to clients.
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	default:
		return false
	}
}

// ToolResult is the outcome of a tool execution as seen by clients. Artifact
// carries side-channel data (e.g. a machine usable quote) that is never fed
// back to the model.
type ToolResult struct {
	Content  string          `json:"content"`
	Artifact json.RawMessage `json:"artifact,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
}

// ToolCall is a structured request emitted by the model to invoke a tool.
// Result is only populated by consumers once the matching execution ended; it
// is never part of the persisted log.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    *ToolResult     `json:"result,omitempty"`
}

// Clone returns a deep copy of the tool call.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Arguments != nil {
		out.Arguments = append(json.RawMessage(nil), tc.Arguments...)
	}
	if tc.Result != nil {
		r := *tc.Result
		if r.Artifact != nil {
			r.Artifact = append(json.RawMessage(nil), r.Artifact...)
		}
		out.Result = &r
	}
	return out
}

// Message is one conversation turn. ToolCalls only appear on assistant
// messages and ToolCallID only on tool messages. Name carries the tool name on
// tool messages and Error marks synthetic error messages rendered by clients.
// The persisted form is plain data and contains no references to live objects.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Error      bool       `json:"error,omitempty"`
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }

// NewUserMessage creates a user message with a fresh id.
func NewUserMessage(content string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: content}
}

// NewSystemMessage creates a system message with a fresh id.
func NewSystemMessage(content string) Message {
	return Message{ID: NewID(), Role: RoleSystem, Content: content}
}

// NewAssistantMessage creates an assistant message with a fresh id.
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates the tool message answering callID.
func NewToolMessage(callID, toolName, content string) Message {
	return Message{ID: NewID(), Role: RoleTool, Content: content, ToolCallID: callID, Name: toolName}
}

// HasToolCalls reports whether the message requests tool executions.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// Validate checks the per-message shape constraints.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("message %s: unknown role %q", m.ID, m.Role)
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return fmt.Errorf("message %s: tool calls are only allowed on assistant messages", m.ID)
	}
	if m.ToolCallID != "" && m.Role != RoleTool {
		return fmt.Errorf("message %s: tool_call_id is only allowed on tool messages", m.ID)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("message %s: tool message without tool_call_id", m.ID)
	}
	for _, tc := range m.ToolCalls {
		if tc.ID == "" || tc.Name == "" {
			return fmt.Errorf("message %s: tool call requires id and name", m.ID)
		}
	}
	return nil
}

// CloneLog returns a deep copy of a message log. A nil log yields an empty,
// non-nil slice.
func CloneLog(log []Message) []Message {
	out := make([]Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out
}

// ValidateLog checks every message and ensures that each tool message answers
// a tool call requested by a preceding assistant message. Message ids must be
// unique within the log.
func ValidateLog(log []Message) error {
	seen := make(map[string]struct{}, len(log))
	requested := map[string]struct{}{}
	for _, m := range log {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate message id %s", m.ID)
		}
		seen[m.ID] = struct{}{}
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				requested[tc.ID] = struct{}{}
			}
		case RoleTool:
			if _, ok := requested[m.ToolCallID]; !ok {
				return fmt.Errorf("tool message %s references unknown tool call %s", m.ID, m.ToolCallID)
			}
		}
	}
	return nil
}

// Thread is a persistent conversation identified by ID.
type Thread struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// Validate checks the thread id and its message log.
func (t Thread) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("thread id is required")
	}
	return ValidateLog(t.Messages)
}
