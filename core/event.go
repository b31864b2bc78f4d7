package core

import (
	"fmt"
	"time"
)

// EventType is the discriminant of the closed Event union.
type EventType string

const (
	// EventRunStarted opens a run.
	EventRunStarted EventType = "run_started"
	// EventModelInvocationStarted carries the messages fed to the model.
	EventModelInvocationStarted EventType = "model_invocation_started"
	// EventModelChunk carries one streamed content delta of an open message.
	EventModelChunk EventType = "model_chunk"
	// EventModelInvocationEnded carries the authoritative final message.
	EventModelInvocationEnded EventType = "model_invocation_ended"
	// EventToolExecutionStarted announces the dispatch of one tool call.
	EventToolExecutionStarted EventType = "tool_execution_started"
	// EventToolExecutionEnded carries the tool message produced by a call.
	EventToolExecutionEnded EventType = "tool_execution_ended"
	// EventRunEnded closes a successful run.
	EventRunEnded EventType = "run_ended"
	// EventRunFailed closes a failed or cancelled run.
	EventRunFailed EventType = "run_failed"
)

// Event is the unit of the run protocol. After emission it must be treated as
// immutable. The envelope (ID, RunID, ThreadID, Seq, Timestamp) is present on
// every event; payload fields are populated according to Type:
//
//	model_invocation_started  Messages
//	model_chunk               MessageID, Delta
//	model_invocation_ended    Message, ToolCalls
//	tool_execution_started    ToolCall
//	tool_execution_ended      ToolCall, Message (the tool message), Result
//	run_failed                Error
//
// Within one run Seq strictly increases, so consumers can detect gaps.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	ThreadID  string      `json:"thread_id,omitempty"`
	Seq       int64       `json:"seq"`
	Step      int         `json:"step,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Messages  []Message   `json:"messages,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Delta     string      `json:"delta,omitempty"`
	Message   *Message    `json:"message,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	ToolCall  *ToolCall   `json:"tool_call,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	Error     *RunError   `json:"error,omitempty"`
}

func newEvent(t EventType) Event {
	return Event{
		ID:        NewID(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunStartedEvent creates a run_started event.
func NewRunStartedEvent() Event { return newEvent(EventRunStarted) }

// NewModelInvocationStartedEvent creates a model_invocation_started event
// carrying a copy of the input messages.
func NewModelInvocationStartedEvent(input []Message) Event {
	e := newEvent(EventModelInvocationStarted)
	e.Messages = CloneLog(input)
	return e
}

// NewModelChunkEvent creates a model_chunk event for the open message id.
func NewModelChunkEvent(messageID, delta string) Event {
	e := newEvent(EventModelChunk)
	e.MessageID = messageID
	e.Delta = delta
	return e
}

// NewModelInvocationEndedEvent creates a model_invocation_ended event. The
// tool calls are copied from the final message.
func NewModelInvocationEndedEvent(final Message) Event {
	e := newEvent(EventModelInvocationEnded)
	m := final.Clone()
	e.Message = &m
	e.MessageID = m.ID
	if len(m.ToolCalls) > 0 {
		e.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			e.ToolCalls[i] = tc.Clone()
		}
	}
	return e
}

// NewToolExecutionStartedEvent creates a tool_execution_started event.
func NewToolExecutionStartedEvent(call ToolCall) Event {
	e := newEvent(EventToolExecutionStarted)
	c := call.Clone()
	e.ToolCall = &c
	return e
}

// NewToolExecutionEndedEvent creates a tool_execution_ended event carrying the
// resulting tool message and the client facing result.
func NewToolExecutionEndedEvent(call ToolCall, toolMsg Message, result ToolResult) Event {
	e := newEvent(EventToolExecutionEnded)
	c := call.Clone()
	e.ToolCall = &c
	m := toolMsg.Clone()
	e.Message = &m
	e.MessageID = m.ID
	e.Result = &result
	return e
}

// NewRunEndedEvent creates a run_ended event.
func NewRunEndedEvent() Event { return newEvent(EventRunEnded) }

// NewRunFailedEvent creates a run_failed event from any error.
func NewRunFailedEvent(err error) Event {
	e := newEvent(EventRunFailed)
	e.Error = ToRunError(err)
	return e
}

// IsTerminal reports whether the event closes a run.
func (e Event) IsTerminal() bool {
	return e.Type == EventRunEnded || e.Type == EventRunFailed
}

// Validate checks that the payload matches the event type.
func (e Event) Validate() error {
	switch e.Type {
	case EventRunStarted, EventRunEnded:
		return nil
	case EventModelInvocationStarted:
		return nil
	case EventModelChunk:
		if e.MessageID == "" {
			return fmt.Errorf("%s: message_id is required", e.Type)
		}
	case EventModelInvocationEnded:
		if e.Message == nil || e.Message.ID == "" {
			return fmt.Errorf("%s: final message is required", e.Type)
		}
	case EventToolExecutionStarted:
		if e.ToolCall == nil {
			return fmt.Errorf("%s: tool_call is required", e.Type)
		}
	case EventToolExecutionEnded:
		if e.ToolCall == nil || e.Message == nil || e.Result == nil {
			return fmt.Errorf("%s: tool_call, message and result are required", e.Type)
		}
	case EventRunFailed:
		if e.Error == nil {
			return fmt.Errorf("%s: error is required", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
