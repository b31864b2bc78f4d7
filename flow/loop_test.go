package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shapeshift/agentic-chat/artifact"
	"github.com/shapeshift/agentic-chat/checkpoint"
	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/logging"
	"github.com/shapeshift/agentic-chat/model"
	"github.com/shapeshift/agentic-chat/tool"
)

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []core.Event
	onEmit func(core.Event)
}

func (r *recorder) emit(ev core.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.onEmit != nil {
		r.onEmit(ev)
	}
}

func (r *recorder) types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) last() core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) ofType(t core.EventType) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func call(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func staticTool(name, content string) tool.Tool {
	return tool.NewFunctionTool(name, name, nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return content, nil
	})
}

type fixture struct {
	model *model.ScriptedModel
	store *checkpoint.InMemoryStore
	loop  *Loop
}

func newFixture(t *testing.T, tools []tool.Tool, opts LoopOptions, turns ...model.Turn) *fixture {
	t.Helper()
	if opts.RetryInitialInterval == 0 {
		opts.RetryInitialInterval = time.Millisecond
		opts.RetryMaxInterval = 5 * time.Millisecond
	}
	m := model.NewScriptedModel(turns...)
	store := checkpoint.NewInMemoryStore()
	loop, err := NewLoop(LoopConfig{
		Model:       m,
		Tools:       tool.NewRegistry(tools...),
		Checkpoints: store,
		Options:     opts,
	})
	require.NoError(t, err)
	return &fixture{model: m, store: store, loop: loop}
}

func (f *fixture) run(t *testing.T, ctx context.Context, threadID, content string, rec *recorder) error {
	t.Helper()
	return f.loop.Run(ctx, RunInput{ThreadID: threadID, RunID: "run-" + threadID, Message: core.NewUserMessage(content)}, rec.emit)
}

func TestNewLoop_Validation(t *testing.T) {
	_, err := NewLoop(LoopConfig{Checkpoints: checkpoint.NewInMemoryStore()})
	assert.Error(t, err)
	_, err = NewLoop(LoopConfig{Model: model.NewScriptedModel()})
	assert.Error(t, err)

	loop, err := NewLoop(LoopConfig{Model: model.NewScriptedModel(), Checkpoints: checkpoint.NewInMemoryStore()})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSteps, loop.Options().MaxSteps)
}

func TestLoop_ScenarioA_ToolRoundTrips(t *testing.T) {
	f := newFixture(t,
		[]tool.Tool{staticTool("search", `{"symbol":"USDC"}`), staticTool("quote", `{"buy":"0.0004"}`)},
		LoopOptions{},
		model.Turn{ToolCalls: []core.ToolCall{call("c1", "search", `{"search":"USDC"}`)}},
		model.Turn{ToolCalls: []core.ToolCall{call("c2", "quote", `{"amount":"1"}`)}},
		model.Turn{ID: "final", Content: "You will receive 0.0004 ETH."},
	)

	rec := &recorder{}
	require.NoError(t, f.run(t, context.Background(), "a", "swap 1 USDC to ETH", rec))

	assert.Equal(t, []core.EventType{
		core.EventRunStarted,
		core.EventModelInvocationStarted, core.EventModelInvocationEnded,
		core.EventToolExecutionStarted, core.EventToolExecutionEnded,
		core.EventModelInvocationStarted, core.EventModelInvocationEnded,
		core.EventToolExecutionStarted, core.EventToolExecutionEnded,
		core.EventModelInvocationStarted, core.EventModelInvocationEnded,
		core.EventRunEnded,
	}, rec.types())

	for i, ev := range rec.events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "run-a", ev.RunID)
		assert.Equal(t, "a", ev.ThreadID)
		assert.NoError(t, ev.Validate())
	}

	log, err := f.store.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, log, 6)
	assert.Equal(t, core.RoleUser, log[0].Role)
	assert.Equal(t, "c1", log[2].ToolCallID)
	assert.Equal(t, `{"symbol":"USDC"}`, log[2].Content)
	assert.Equal(t, "c2", log[4].ToolCallID)
	assert.Equal(t, "final", log[5].ID)
	assert.NoError(t, core.ValidateLog(log))

	// The model sees the tool result of the previous batch.
	reqs := f.model.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[1].Messages, 3)
	assert.Len(t, reqs[2].Tools, 2)
}

func TestLoop_ScenarioB_FinalContentWins(t *testing.T) {
	f := newFixture(t, nil, LoopOptions{Stream: true},
		model.Turn{ID: "m1", Chunks: []string{"Hel", "lo ", "world"}, Content: "Hello world!"},
	)
	rec := &recorder{}
	require.NoError(t, f.run(t, context.Background(), "b", "hi", rec))

	chunks := rec.ofType(core.EventModelChunk)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, "m1", c.MessageID)
	}
	ended := rec.ofType(core.EventModelInvocationEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "m1", ended[0].Message.ID)
	assert.Equal(t, "Hello world!", ended[0].Message.Content)

	log, _ := f.store.Get(context.Background(), "b")
	require.Len(t, log, 2)
	assert.Equal(t, "Hello world!", log[1].Content)
}

func TestLoop_ScenarioC_ResumesThread(t *testing.T) {
	f := newFixture(t, nil, LoopOptions{},
		model.Turn{Content: "first answer"},
		model.Turn{Content: "second answer"},
	)
	ctx := context.Background()

	prior := []core.Message{
		core.NewUserMessage("one"),
		core.NewAssistantMessage("two"),
		core.NewUserMessage("three"),
		core.NewAssistantMessage("four"),
	}
	require.NoError(t, f.store.Put(ctx, "c", prior))

	require.NoError(t, f.run(t, ctx, "c", "five", &recorder{}))

	log, err := f.store.Get(ctx, "c")
	require.NoError(t, err)
	require.Len(t, log, 6)
	assert.Equal(t, prior, log[:4])
	assert.Equal(t, "five", log[4].Content)
	assert.Equal(t, "first answer", log[5].Content)

	// The model received the resumed log plus the new message.
	assert.Len(t, f.model.Requests()[0].Messages, 5)
}

func TestLoop_ScenarioD_ToolErrorContinues(t *testing.T) {
	failing := tool.NewFunctionTool("quote", "quote", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("No routes found in Bebop response")
	})
	f := newFixture(t, []tool.Tool{failing}, LoopOptions{},
		model.Turn{ToolCalls: []core.ToolCall{call("c1", "quote", `{}`)}},
		model.Turn{Content: "Sorry, no route."},
	)
	rec := &recorder{}
	require.NoError(t, f.run(t, context.Background(), "d", "quote", rec))

	assert.Equal(t, 2, f.model.Calls())
	ended := rec.ofType(core.EventToolExecutionEnded)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Result.IsError)
	assert.True(t, strings.HasPrefix(ended[0].Message.Content, "Error: No routes found in Bebop response"))
	assert.Equal(t, core.EventRunEnded, rec.last().Type)
}

func TestLoop_ScenarioE_CancelDuringToolBatch(t *testing.T) {
	blocking := tool.NewFunctionTool("slow", "slow", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		<-tc.Context().Done()
		return nil, tc.Context().Err()
	})
	f := newFixture(t, []tool.Tool{staticTool("a", "A"), staticTool("b", "B"), blocking}, LoopOptions{},
		model.Turn{ToolCalls: []core.ToolCall{call("c1", "a", `{}`), call("c2", "b", `{}`), call("c3", "slow", `{}`)}},
		model.Turn{Content: "never"},
	)
	prior := []core.Message{core.NewUserMessage("earlier"), core.NewAssistantMessage("reply")}
	require.NoError(t, f.store.Put(context.Background(), "e", prior))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ended := 0
	rec := &recorder{}
	rec.onEmit = func(ev core.Event) {
		if ev.Type == core.EventToolExecutionEnded {
			ended++
			if ended == 2 {
				cancel()
			}
		}
	}

	err := f.run(t, ctx, "e", "swap", rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCancelled)

	last := rec.last()
	assert.Equal(t, core.EventRunFailed, last.Type)
	assert.Equal(t, core.CodeCancelled, last.Error.Code)
	assert.Len(t, rec.ofType(core.EventToolExecutionEnded), 2)

	log, err := f.store.Get(context.Background(), "e")
	require.NoError(t, err)
	assert.Equal(t, prior, log)
	assert.Equal(t, 1, f.model.Calls())
}

func TestLoop_ToolResultsInRequestOrder(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "slow", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "slow", nil
	})
	f := newFixture(t, []tool.Tool{slow, staticTool("fast", "fast")}, LoopOptions{},
		model.Turn{ToolCalls: []core.ToolCall{call("c1", "slow", `{}`), call("c2", "fast", `{}`), call("c3", "fast", `{}`)}},
		model.Turn{Content: "done"},
	)
	rec := &recorder{}
	require.NoError(t, f.run(t, context.Background(), "order", "go", rec))

	started := rec.ofType(core.EventToolExecutionStarted)
	ended := rec.ofType(core.EventToolExecutionEnded)
	require.Len(t, started, 3)
	require.Len(t, ended, 3)
	for i, id := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, id, started[i].ToolCall.ID)
		assert.Equal(t, id, ended[i].ToolCall.ID)
	}

	log, _ := f.store.Get(context.Background(), "order")
	require.Len(t, log, 6)
	assert.Equal(t, "c1", log[2].ToolCallID)
	assert.Equal(t, "c2", log[3].ToolCallID)
	assert.Equal(t, "c3", log[4].ToolCallID)
}

func TestLoop_MaxStepsExceeded(t *testing.T) {
	turns := make([]model.Turn, 5)
	for i := range turns {
		turns[i] = model.Turn{ToolCalls: []core.ToolCall{call("c"+string(rune('a'+i)), "a", `{}`)}}
	}
	f := newFixture(t, []tool.Tool{staticTool("a", "A")}, LoopOptions{MaxSteps: 2}, turns...)
	rec := &recorder{}

	err := f.run(t, context.Background(), "steps", "loop", rec)
	assert.ErrorIs(t, err, core.ErrMaxStepsExceeded)
	assert.Equal(t, 2, f.model.Calls())
	assert.Equal(t, core.CodeMaxSteps, rec.last().Error.Code)

	// The first two transitions were committed before the cap was hit.
	log, _ := f.store.Get(context.Background(), "steps")
	assert.Len(t, log, 5)
}

func TestLoop_ModelRetry(t *testing.T) {
	f := newFixture(t, nil, LoopOptions{MaxRetries: 2},
		model.Turn{Err: errors.New("503 service unavailable")},
		model.Turn{Content: "recovered"},
	)
	rec := &recorder{}
	require.NoError(t, f.run(t, context.Background(), "retry", "hi", rec))
	assert.Equal(t, 2, f.model.Calls())
	assert.Len(t, rec.ofType(core.EventModelInvocationStarted), 1)
}

func TestLoop_ModelRetryExhausted(t *testing.T) {
	boom := errors.New("503 service unavailable")
	f := newFixture(t, nil, LoopOptions{MaxRetries: 1},
		model.Turn{Err: boom},
		model.Turn{Err: boom},
	)
	rec := &recorder{}
	err := f.run(t, context.Background(), "exhausted", "hi", rec)

	var modelErr *core.ModelInvocationError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, 2, modelErr.Attempts)
	assert.Equal(t, core.CodeModelInvocation, rec.last().Error.Code)
	assert.True(t, rec.last().Error.Retryable)

	log, _ := f.store.Get(context.Background(), "exhausted")
	assert.Empty(t, log)
}

func TestLoop_NoRetryAfterChunks(t *testing.T) {
	f := newFixture(t, nil, LoopOptions{MaxRetries: 3, Stream: true},
		model.Turn{ID: "m1", Chunks: []string{"partial"}, Err: errors.New("connection reset")},
		model.Turn{Content: "unused"},
	)
	rec := &recorder{}
	err := f.run(t, context.Background(), "chunks", "hi", rec)
	require.Error(t, err)
	assert.Equal(t, 1, f.model.Calls())
	assert.Len(t, rec.ofType(core.EventModelChunk), 1)
}

func TestLoop_ModelTimeout(t *testing.T) {
	f := newFixture(t, nil, LoopOptions{ModelTimeout: 20 * time.Millisecond},
		model.Turn{Delay: time.Second, Content: "late"},
	)
	rec := &recorder{}
	err := f.run(t, context.Background(), "timeout", "hi", rec)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, core.CodeTimeout, rec.last().Error.Code)
}

func TestLoop_ToolTimeoutAndPanic(t *testing.T) {
	sleepy := tool.NewFunctionTool("sleepy", "sleepy", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})
	panicky := tool.NewFunctionTool("panicky", "panicky", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		panic("bad state")
	})
	f := newFixture(t, []tool.Tool{sleepy, panicky}, LoopOptions{ToolTimeout: 20 * time.Millisecond},
		model.Turn{ToolCalls: []core.ToolCall{call("c1", "sleepy", `{}`), call("c2", "panicky", `{}`)}},
		model.Turn{Content: "ok"},
	)
	rec := &recorder{}
	require.NoError(t, f.run(t, context.Background(), "tt", "go", rec))

	ended := rec.ofType(core.EventToolExecutionEnded)
	require.Len(t, ended, 2)
	assert.Contains(t, ended[0].Result.Content, "timed out")
	assert.Contains(t, ended[1].Result.Content, "panic: bad state")
	assert.Equal(t, 2, f.model.Calls())
}

func TestLoop_InstructionAndArtifacts(t *testing.T) {
	quote := tool.NewFunctionTool("quote", "quote", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		return tool.Result{Content: "0.5 ETH", Artifact: map[string]string{"txData": "0xabc"}}, nil
	})
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{call("c1", "quote", `{}`)}},
		model.Turn{Content: "done"},
	)
	store := checkpoint.NewInMemoryStore()
	artifacts := artifact.NewInMemoryStore()
	loop, err := NewLoop(LoopConfig{
		Model:       m,
		Tools:       tool.NewRegistry(quote),
		Checkpoints: store,
		Artifacts:   artifacts,
		Instruction: NewInstructionFromText("You are a trading agent for thread {{.ThreadID}}."),
	})
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, loop.Run(context.Background(), RunInput{ThreadID: "t-1", Message: core.NewUserMessage("quote")}, rec.emit))

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "You are a trading agent for thread t-1.", reqs[0].Instructions)

	log, _ := store.Get(context.Background(), "t-1")
	for _, msg := range log {
		assert.NotEqual(t, core.RoleSystem, msg.Role)
	}

	ended := rec.ofType(core.EventToolExecutionEnded)
	require.Len(t, ended, 1)
	assert.JSONEq(t, `{"txData":"0xabc"}`, string(ended[0].Result.Artifact))
	assert.Equal(t, "0.5 ETH", ended[0].Message.Content)

	stored, err := artifacts.Get("t-1", "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"txData":"0xabc"}`, string(stored))
}

func TestLoop_HookErrorFailsRun(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{ToolCalls: []core.ToolCall{call("c1", "a", `{}`)}})
	loop, err := NewLoop(LoopConfig{
		Model:       m,
		Tools:       tool.NewRegistry(staticTool("a", "A")),
		Checkpoints: checkpoint.NewInMemoryStore(),
		Hooks: Hooks{
			BeforeTool: func(context.Context, core.ToolCall) error { return errors.New("denied") },
		},
	})
	require.NoError(t, err)

	rec := &recorder{}
	err = loop.Run(context.Background(), RunInput{ThreadID: "h", Message: core.NewUserMessage("x")}, rec.emit)
	require.Error(t, err)
	assert.Equal(t, core.EventRunFailed, rec.last().Type)
	assert.Empty(t, rec.ofType(core.EventToolExecutionStarted))
}

func TestLoop_AfterToolReceivesToolExecutionError(t *testing.T) {
	failing := tool.NewFunctionTool("quote", "quote", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("no route")
	})
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Output: &buf})

	var (
		mu      sync.Mutex
		outcome = map[string]error{}
	)
	loop, err := NewLoop(LoopConfig{
		Model: model.NewScriptedModel(
			model.Turn{ToolCalls: []core.ToolCall{call("c1", "quote", `{}`), call("c2", "search", `{}`)}},
			model.Turn{Content: "done"},
		),
		Tools:       tool.NewRegistry(failing, staticTool("search", "found")),
		Checkpoints: checkpoint.NewInMemoryStore(),
		Hooks: Hooks{
			AfterTool: func(_ context.Context, c core.ToolCall, _ core.ToolResult, callErr error) error {
				mu.Lock()
				defer mu.Unlock()
				outcome[c.ID] = callErr
				return nil
			},
		},
		Logger: logger,
	})
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, loop.Run(context.Background(), RunInput{ThreadID: "x", RunID: "r", Message: core.NewUserMessage("go")}, rec.emit))

	require.Len(t, outcome, 2)
	assert.NoError(t, outcome["c2"])

	var execErr *core.ToolExecutionError
	require.ErrorAs(t, outcome["c1"], &execErr)
	assert.Equal(t, "quote", execErr.Tool)
	assert.Equal(t, "c1", execErr.CallID)
	assert.Equal(t, core.CodeToolExecution, core.CodeOf(outcome["c1"]))
	var toolErr *tool.ToolError
	require.ErrorAs(t, outcome["c1"], &toolErr)
	assert.Equal(t, tool.CodeExecution, toolErr.Code)

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		msgs = append(msgs, rec["msg"].(string))
		if rec["msg"] == "loop.state" {
			assert.Contains(t, rec, "remaining")
		}
		if rec["msg"] == "loop.tool.executed" && rec["tool"] == "quote" {
			assert.Equal(t, false, rec["success"])
			assert.Equal(t, "x", rec["thread_id"])
		}
	}
	assert.Contains(t, msgs, "loop.model.invoke")
	assert.Contains(t, msgs, "loop.tool.executed")
	assert.Contains(t, msgs, "loop.run.end")
}

type failingStore struct{ core.CheckpointStore }

func (failingStore) Put(context.Context, string, []core.Message) error {
	return errors.New("disk full")
}

func TestLoop_CheckpointFailure(t *testing.T) {
	loop, err := NewLoop(LoopConfig{
		Model:       model.NewScriptedModel(model.Turn{Content: "hi"}),
		Checkpoints: failingStore{checkpoint.NewInMemoryStore()},
	})
	require.NoError(t, err)

	rec := &recorder{}
	err = loop.Run(context.Background(), RunInput{ThreadID: "cp", Message: core.NewUserMessage("x")}, rec.emit)
	var cpErr *core.CheckpointPersistError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, core.CodeCheckpoint, rec.last().Error.Code)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "invoke_model", StateInvokeModel.String())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateDecide.IsTerminal())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNormalizeFinal(t *testing.T) {
	msg := normalizeFinal(core.Message{
		ID:   "provider-id",
		Role: core.RoleTool,
		ToolCalls: []core.ToolCall{
			{Name: "a"},
			{ID: "dup", Name: "b"},
			{ID: "dup", Name: "b"},
			{ID: "noname"},
		},
	}, "streamed-id")

	assert.Equal(t, "streamed-id", msg.ID)
	assert.Equal(t, core.RoleAssistant, msg.Role)
	require.Len(t, msg.ToolCalls, 2)
	assert.True(t, strings.HasPrefix(msg.ToolCalls[0].ID, "call-"))
	assert.Equal(t, "dup", msg.ToolCalls[1].ID)
}
