package tool

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shapeshift/agentic-chat/core"
)

// ArtifactTool lets the model read back artifacts that earlier tool calls of
// the same thread stored. Artifacts are keyed by the id of the tool call that
// produced them.
type ArtifactTool struct {
	name        string
	description string
}

// NewArtifactTool creates the threadArtifacts tool.
func NewArtifactTool() *ArtifactTool {
	return &ArtifactTool{
		name: "threadArtifacts",
		description: "Reads artifacts stored by earlier tool calls of this conversation. " +
			"Supports operations: list (artifact ids) and load (one artifact by tool call id).",
	}
}

// Name returns the tool identifier.
func (t *ArtifactTool) Name() string { return t.name }

// Description returns the tool description.
func (t *ArtifactTool) Description() string { return t.description }

// Parameters returns the JSON schema for tool parameters.
func (t *ArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"list", "load"},
				"description": "The artifact operation to perform",
			},
			"artifact_id": map[string]any{
				"type":        "string",
				"description": "Tool call id whose artifact to load",
			},
		},
		"required": []string{"operation"},
	}
}

// Call implements the Tool interface.
func (t *ArtifactTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	switch StringArg(args, "operation", "") {
	case "list":
		ids, err := toolCtx.ListArtifacts()
		if err != nil {
			return nil, NewToolError(t.name, err.Error(), CodeExecution)
		}
		sort.Strings(ids)
		return map[string]any{"artifact_ids": ids, "count": len(ids)}, nil
	case "load":
		id := StringArg(args, "artifact_id", "")
		if id == "" {
			return nil, NewToolError(t.name, "artifact_id is required for load", CodeValidation)
		}
		data, err := toolCtx.LoadArtifact(id)
		if err != nil {
			return nil, NewToolError(t.name, fmt.Sprintf("artifact %s: %v", id, err), CodeNotFound)
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return string(data), nil
		}
		return decoded, nil
	default:
		return nil, NewToolError(t.name, "unsupported operation", CodeValidation)
	}
}
