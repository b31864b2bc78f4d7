package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Constructors(t *testing.T) {
	input := []Message{NewUserMessage("swap 1 USDC to ETH")}
	started := NewModelInvocationStartedEvent(input)
	assert.Equal(t, EventModelInvocationStarted, started.Type)
	assert.NotEmpty(t, started.ID)
	assert.False(t, started.Timestamp.IsZero())
	require.Len(t, started.Messages, 1)

	// The event owns its copy of the input.
	input[0].Content = "mutated"
	assert.Equal(t, "swap 1 USDC to ETH", started.Messages[0].Content)

	chunk := NewModelChunkEvent("m1", "Hel")
	assert.Equal(t, "m1", chunk.MessageID)
	assert.Equal(t, "Hel", chunk.Delta)

	final := NewAssistantMessage("", ToolCall{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"usdc"}`)})
	ended := NewModelInvocationEndedEvent(final)
	require.NotNil(t, ended.Message)
	assert.Equal(t, final.ID, ended.MessageID)
	require.Len(t, ended.ToolCalls, 1)
	assert.Equal(t, "c1", ended.ToolCalls[0].ID)

	call := final.ToolCalls[0]
	toolMsg := NewToolMessage(call.ID, call.Name, "result")
	done := NewToolExecutionEndedEvent(call, toolMsg, ToolResult{Content: "result"})
	assert.Equal(t, toolMsg.ID, done.MessageID)
	assert.Equal(t, "result", done.Result.Content)

	failed := NewRunFailedEvent(ErrCancelled)
	require.NotNil(t, failed.Error)
	assert.Equal(t, CodeCancelled, failed.Error.Code)
	assert.True(t, failed.IsTerminal())
	assert.True(t, NewRunEndedEvent().IsTerminal())
	assert.False(t, chunk.IsTerminal())
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"run started", NewRunStartedEvent(), false},
		{"chunk ok", NewModelChunkEvent("m1", "x"), false},
		{"chunk without id", NewModelChunkEvent("", "x"), true},
		{"ended ok", NewModelInvocationEndedEvent(NewAssistantMessage("hi")), false},
		{"ended without message", Event{Type: EventModelInvocationEnded}, true},
		{"tool started without call", Event{Type: EventToolExecutionStarted}, true},
		{"tool ended without result", Event{Type: EventToolExecutionEnded, ToolCall: &ToolCall{ID: "c"}}, true},
		{"failed without error", Event{Type: EventRunFailed}, true},
		{"failed ok", NewRunFailedEvent(errors.New("boom")), false},
		{"unknown type", Event{Type: "bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvent_JSONShape(t *testing.T) {
	ev := NewModelChunkEvent("m1", "lo ")
	ev.RunID = "run-1"
	ev.ThreadID = "t-1"
	ev.Seq = 3

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "model_chunk", raw["type"])
	assert.Equal(t, "m1", raw["message_id"])
	assert.Equal(t, "lo ", raw["delta"])
	assert.NotContains(t, raw, "message")
	assert.NotContains(t, raw, "error")
}
