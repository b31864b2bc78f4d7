package gemini

import (
	"encoding/json"
	"testing"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestBuildContents(t *testing.T) {
	asst := core.NewAssistantMessage("", core.ToolCall{ID: "c1", Name: "getAddress", Arguments: json.RawMessage(`{"chainId":1}`)})
	toolMsg := core.NewToolMessage("c1", "", "0xabc")
	log := []core.Message{
		core.NewSystemMessage("skip"),
		core.NewUserMessage("address?"),
		asst,
		toolMsg,
		core.NewAssistantMessage("Your address is 0xabc"),
	}

	contents := buildContents(log)
	require.Len(t, contents, 4)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, float64(1), contents[1].Parts[0].FunctionCall.Args["chainId"])
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "getAddress", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "model", contents[3].Role)
}

func TestToSchema(t *testing.T) {
	s := toSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit":   map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			"network": map[string]any{"type": "string", "enum": []any{"ethereum", "base"}},
			"ids":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"limit"},
	})
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"limit"}, s.Required)
	require.NotNil(t, s.Properties["limit"].Minimum)
	assert.Equal(t, 50.0, *s.Properties["limit"].Maximum)
	assert.Equal(t, []string{"ethereum", "base"}, s.Properties["network"].Enum)
	assert.Equal(t, genai.TypeString, s.Properties["ids"].Items.Type)
	assert.Nil(t, toSchema(nil))
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{Function: model.FunctionDefinition{Name: "a", Description: "d"}}})
	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "a", tools[0].FunctionDeclarations[0].Name)
}

func TestToToolCallGeneratesID(t *testing.T) {
	tc := toToolCall(&genai.FunctionCall{Name: "x", Args: map[string]any{"a": "b"}})
	assert.Contains(t, tc.ID, "call-")
	assert.JSONEq(t, `{"a":"b"}`, string(tc.Arguments))
}
