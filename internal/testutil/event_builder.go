package testutil

import (
	"errors"

	"github.com/shapeshift/agentic-chat/core"
)

// EventBuilder provides a fluent helper for constructing the event stream of
// one run in tests. Sequence numbers and the run envelope are assigned in
// call order.
//
// Example:
//
//	events := NewEventBuilder("thread-1", "run-1").
//		RunStarted().
//		InvocationStarted(user).
//		Chunk("m1", "Hel").
//		Final(core.Message{ID: "m1", Role: core.RoleAssistant, Content: "Hello"}).
//		RunEnded().
//		Events()
type EventBuilder struct {
	threadID string
	runID    string
	seq      int64
	events   []core.Event
}

// NewEventBuilder creates a builder for the given thread and run.
func NewEventBuilder(threadID, runID string) *EventBuilder {
	return &EventBuilder{threadID: threadID, runID: runID}
}

// Add appends an arbitrary event, stamping the envelope (chainable).
func (b *EventBuilder) Add(ev core.Event) *EventBuilder {
	b.seq++
	ev.ThreadID = b.threadID
	ev.RunID = b.runID
	ev.Seq = b.seq
	b.events = append(b.events, ev)
	return b
}

// RunStarted appends run_started (chainable).
func (b *EventBuilder) RunStarted() *EventBuilder { return b.Add(core.NewRunStartedEvent()) }

// InvocationStarted appends model_invocation_started with the input messages (chainable).
func (b *EventBuilder) InvocationStarted(input ...core.Message) *EventBuilder {
	return b.Add(core.NewModelInvocationStartedEvent(input))
}

// Chunk appends a model_chunk for the open message id (chainable).
func (b *EventBuilder) Chunk(id, delta string) *EventBuilder {
	return b.Add(core.NewModelChunkEvent(id, delta))
}

// Chunks appends one model_chunk per delta (chainable).
func (b *EventBuilder) Chunks(id string, deltas ...string) *EventBuilder {
	for _, d := range deltas {
		b.Chunk(id, d)
	}
	return b
}

// Final appends model_invocation_ended for msg (chainable).
func (b *EventBuilder) Final(msg core.Message) *EventBuilder {
	if msg.Role == "" {
		msg.Role = core.RoleAssistant
	}
	return b.Add(core.NewModelInvocationEndedEvent(msg))
}

// ToolRoundTrip appends tool_execution_started and tool_execution_ended for
// call with the given content and returns the tool message through out when
// it is not nil (chainable).
func (b *EventBuilder) ToolRoundTrip(call core.ToolCall, content string, out *core.Message) *EventBuilder {
	msg := core.NewToolMessage(call.ID, call.Name, content)
	if out != nil {
		*out = msg
	}
	b.Add(core.NewToolExecutionStartedEvent(call))
	return b.Add(core.NewToolExecutionEndedEvent(call, msg, core.ToolResult{Content: content}))
}

// RunEnded appends run_ended (chainable).
func (b *EventBuilder) RunEnded() *EventBuilder { return b.Add(core.NewRunEndedEvent()) }

// RunFailed appends run_failed for err (chainable).
func (b *EventBuilder) RunFailed(err error) *EventBuilder {
	if err == nil {
		err = errors.New("run failed")
	}
	return b.Add(core.NewRunFailedEvent(err))
}

// Events returns the built events.
func (b *EventBuilder) Events() []core.Event {
	return append([]core.Event(nil), b.events...)
}

// Channel returns a closed, buffered channel holding the built events.
func (b *EventBuilder) Channel() <-chan core.Event {
	ch := make(chan core.Event, len(b.events))
	for _, ev := range b.events {
		ch <- ev
	}
	close(ch)
	return ch
}
