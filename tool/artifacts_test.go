package tool

import (
	"context"
	"testing"

	"github.com/shapeshift/agentic-chat/artifact"
	"github.com/shapeshift/agentic-chat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactTool(t *testing.T) {
	store := artifact.NewInMemoryStore()
	require.NoError(t, store.Save("thread-1", "call-b", []byte(`{"txData":"0xabc"}`)))
	require.NoError(t, store.Save("thread-1", "call-a", []byte("raw")))
	require.NoError(t, store.Save("thread-2", "call-c", []byte(`{}`)))

	tc := core.NewToolContext(context.Background(), core.ToolContextConfig{
		ThreadID:   "thread-1",
		RunID:      "run-1",
		ToolCallID: "call-z",
		Artifacts:  store,
	})
	at := NewArtifactTool()

	t.Run("list is scoped to the thread", func(t *testing.T) {
		out, err := at.Call(tc, map[string]any{"operation": "list"})
		require.NoError(t, err)
		listed := out.(map[string]any)
		assert.Equal(t, []string{"call-a", "call-b"}, listed["artifact_ids"])
		assert.Equal(t, 2, listed["count"])
	})

	t.Run("load decodes json", func(t *testing.T) {
		out, err := at.Call(tc, map[string]any{"operation": "load", "artifact_id": "call-b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"txData": "0xabc"}, out)
	})

	t.Run("load falls back to text", func(t *testing.T) {
		out, err := at.Call(tc, map[string]any{"operation": "load", "artifact_id": "call-a"})
		require.NoError(t, err)
		assert.Equal(t, "raw", out)
	})

	t.Run("errors", func(t *testing.T) {
		var toolErr *ToolError

		_, err := at.Call(tc, map[string]any{"operation": "load"})
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, CodeValidation, toolErr.Code)

		_, err = at.Call(tc, map[string]any{"operation": "load", "artifact_id": "call-c"})
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, CodeNotFound, toolErr.Code)

		_, err = at.Call(tc, map[string]any{"operation": "drop"})
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, CodeValidation, toolErr.Code)
	})

	t.Run("no store configured", func(t *testing.T) {
		bare := core.NewToolContext(context.Background(), core.ToolContextConfig{ThreadID: "thread-1", ToolCallID: "x"})
		_, err := at.Call(bare, map[string]any{"operation": "list"})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, CodeExecution, toolErr.Code)
	})
}
