package agenticchat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/flow"
	"github.com/shapeshift/agentic-chat/model"
	"github.com/shapeshift/agentic-chat/reconciler"
	"github.com/shapeshift/agentic-chat/tool"
	"github.com/shapeshift/agentic-chat/tools/units"
	"github.com/shapeshift/agentic-chat/transport/ws"
)

func TestChat_SubmitSyncWithTools(t *testing.T) {
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{{ID: "c1", Name: "toBaseUnit", Arguments: json.RawMessage(`{"value":"1.5","precision":6}`)}}},
		model.Turn{Content: "1.5 USDC is 1500000 base units."},
	)
	chat, err := New(m, func(o *Options) {
		o.Tools = units.Tools()
		o.Instruction = flow.NewInstructionFromText("You convert units.")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runID, events, err := chat.SubmitSync(ctx, "t1", "convert 1.5 USDC")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	assert.Equal(t, core.EventRunEnded, events[len(events)-1].Type)

	var ended *core.Event
	for i := range events {
		if events[i].Type == core.EventToolExecutionEnded {
			ended = &events[i]
		}
	}
	require.NotNil(t, ended)
	assert.Equal(t, "1500000", ended.Result.Content)

	log, err := chat.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, log, 4)
	assert.Equal(t, core.RoleTool, log[2].Role)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "You convert units.", reqs[0].Instructions)
	assert.Equal(t, core.RoleUser, reqs[0].Messages[0].Role)
}

func TestChat_SubmitSyncFailure(t *testing.T) {
	chat, err := New(model.NewScriptedModel(), func(o *Options) {
		o.Loop = flow.LoopOptions{MaxRetries: 0, RetryInitialInterval: time.Millisecond}
	})
	require.NoError(t, err)

	_, events, err := chat.SubmitSync(context.Background(), "t1", "hi")
	require.Error(t, err)
	assert.Equal(t, core.CodeModelInvocation, core.CodeOf(err))
	assert.Equal(t, core.EventRunFailed, events[len(events)-1].Type)
}

func TestChat_DuplicateTool(t *testing.T) {
	fn := func(*core.ToolContext, map[string]any) (any, error) { return "ok", nil }
	_, err := New(model.NewScriptedModel(), func(o *Options) {
		o.Tools = []tool.Tool{tool.NewFunctionTool("a", "", nil, fn), tool.NewFunctionTool("a", "", nil, fn)}
	})
	assert.Error(t, err)
}

func TestChat_HandlerServesRuns(t *testing.T) {
	chat, err := New(model.NewScriptedModel(model.Turn{ID: "m1", Chunks: []string{"Hi", " there"}, Content: "Hi there!"}),
		func(o *Options) { o.Loop.Stream = true })
	require.NoError(t, err)

	srv := httptest.NewServer(chat.Handler())
	defer srv.Close()
	defer func() { _ = chat.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	mgr := reconciler.NewManager(nil)
	require.NoError(t, client.Stream(ctx, mgr, "t1", "hello"))

	msgs := mgr.Transcript("t1").Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi there!", msgs[1].Content)
}
