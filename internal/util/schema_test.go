package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type swapArgs struct {
	Chain  string   `json:"chain" description:"Chain" enum:"ethereum,base"`
	Amount string   `json:"amount"`
	Taker  *string  `json:"taker"`
	Limit  int      `json:"limit,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(swapArgs{})
	props := schema["properties"].(map[string]any)
	assert.Len(t, props, 5)
	assert.ElementsMatch(t, []string{"chain", "amount"}, schema["required"])

	chain := props["chain"].(map[string]any)
	assert.Equal(t, []string{"ethereum", "base"}, chain["enum"])
	assert.Equal(t, "Chain", chain["description"])
	assert.Equal(t, map[string]any{"type": "string"}, props["tags"].(map[string]any)["items"])
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
}

func TestCreateSchemaNonStruct(t *testing.T) {
	schema := CreateSchema(42)
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit":   map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			"network": map[string]any{"type": "string", "enum": []any{"ethereum", "base"}},
			"filter": map[string]any{
				"type":       "object",
				"properties": map[string]any{"symbol": map[string]any{"type": "string"}},
				"required":   []string{"symbol"},
			},
			"ids": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
		},
		"required": []any{"limit"},
	}

	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"valid", map[string]any{"limit": 10.0, "network": "base", "ids": []any{1.0, 2.0}}, ""},
		{"missing required", map[string]any{}, "limit"},
		{"wrong type", map[string]any{"limit": "ten"}, "limit"},
		{"below minimum", map[string]any{"limit": 0.0}, "limit"},
		{"above maximum", map[string]any{"limit": 51.0}, "limit"},
		{"enum", map[string]any{"limit": 5.0, "network": "solana"}, "network"},
		{"nested required", map[string]any{"limit": 5.0, "filter": map[string]any{}}, "filter.symbol"},
		{"array items", map[string]any{"limit": 5.0, "ids": []any{1.0, "x"}}, "ids[1]"},
		{"extra fields allowed", map[string]any{"limit": 5.0, "other": true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, schema)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}
