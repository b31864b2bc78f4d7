package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shapeshift/agentic-chat/core"
)

// Turn scripts one model invocation of a ScriptedModel.
type Turn struct {
	// ID of the produced message; generated when empty.
	ID string
	// Chunks are streamed as partial responses before the final message.
	Chunks []string
	// Content is the final, authoritative content.
	Content   string
	ToolCalls []core.ToolCall
	// Err fails the invocation after the chunks were streamed.
	Err error
	// Delay postpones the final response; cancellation is honoured.
	Delay time.Duration
}

// ScriptedModel is a deterministic in-memory Model for tests and examples.
// Each Generate call consumes the next Turn.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	turns    []Turn
	next     int
	requests []Request
}

// NewScriptedModel returns a model replaying turns in order.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		turns: turns,
	}
}

// Append adds turns to the script.
func (m *ScriptedModel) Append(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Calls returns the number of Generate invocations so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns copies of the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	for i, r := range m.requests {
		r.Messages = core.CloneLog(r.Messages)
		out[i] = r
	}
	return out
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	req.Messages = core.CloneLog(req.Messages)
	m.requests = append(m.requests, req)
	var (
		turn Turn
		ok   bool
	)
	if m.next < len(m.turns) {
		turn, ok = m.turns[m.next], true
		m.next++
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if !ok {
			errCh <- fmt.Errorf("scripted model: no turn left for call %d", m.Calls())
			return
		}

		id := turn.ID
		if id == "" {
			id = core.NewID()
		}

		for _, c := range turn.Chunks {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- Response{ID: id, Partial: true, Delta: c}:
			}
		}

		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(turn.Delay):
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}

		Deliver(ctx, respCh, errCh, Response{
			ID:           id,
			Message:      FinalMessage(id, turn.Content, turn.ToolCalls).Clone(),
			FinishReason: finish,
		})
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
