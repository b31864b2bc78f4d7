// Package gemini implements model.Model on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/model"
	"google.golang.org/genai"
)

// Options configures the Gemini adapter.
type Options struct {
	Model       string
	Temperature float64
	APIKey      string
}

// Model wraps the Gemini streaming API behind model.Model.
type Model struct {
	client *genai.Client
	opts   Options
}

// Verify interface compliance.
var _ model.Model = (*Model)(nil)

// New creates a Gemini model. Without an explicit APIKey the SDK falls back
// to GOOGLE_API_KEY / GEMINI_API_KEY.
func New(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{Model: "gemini-2.0-flash", Temperature: 0}
	for _, fn := range optFns {
		fn(&opts)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// Generate streams the response; partial deltas are only forwarded when the
// request asks for streaming. Gemini does not expose a stable message id, so
// one is generated per invocation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		config := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(m.opts.Temperature)),
		}
		if req.Instructions != "" {
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Instructions}}}
		}
		if len(req.Tools) > 0 {
			config.Tools = buildTools(req.Tools)
		}

		id := core.NewID()
		var (
			text  strings.Builder
			calls []core.ToolCall
		)

		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, buildContents(req.Messages), config) {
			if err != nil {
				errCh <- fmt.Errorf("gemini streaming error: %w", err)
				return
			}
			if resp == nil {
				continue
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						text.WriteString(part.Text)
						if req.Stream {
							select {
							case out <- model.Response{ID: id, Partial: true, Delta: part.Text}:
							case <-ctx.Done():
								errCh <- ctx.Err()
								return
							}
						}
					}
					if part.FunctionCall != nil {
						calls = append(calls, toToolCall(part.FunctionCall))
					}
				}
			}
		}

		finish := "stop"
		if len(calls) > 0 {
			finish = "tool_calls"
		}
		model.Deliver(ctx, out, errCh, model.Response{
			ID:           id,
			Message:      model.FinalMessage(id, text.String(), calls),
			FinishReason: finish,
		})
	}()

	return out, errCh
}

func toToolCall(fc *genai.FunctionCall) core.ToolCall {
	id := fc.ID
	if id == "" {
		id = "call-" + core.NewID()
	}
	var args json.RawMessage
	if fc.Args != nil {
		if raw, err := json.Marshal(fc.Args); err == nil {
			args = raw
		}
	}
	return core.ToolCall{ID: id, Name: fc.Name, Arguments: args}
}

// buildContents converts the log to genai contents. Function responses need
// the tool name, which is resolved from the requesting assistant turn.
// Consecutive tool messages are grouped into one user content.
func buildContents(log []core.Message) []*genai.Content {
	var contents []*genai.Content
	toolNames := map[string]string{}
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			contents = append(contents, &genai.Content{Role: "user", Parts: pending})
			pending = nil
		}
	}

	for _, msg := range log {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			name := msg.Name
			if name == "" {
				name = toolNames[msg.ToolCallID]
			}
			pending = append(pending, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     name,
				Response: map[string]any{"result": msg.Content},
			}})
		case core.RoleUser:
			flush()
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		case core.RoleAssistant:
			flush()
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				toolNames[tc.ID] = tc.Name
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &args)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		}
	}
	flush()

	return contents
}

func buildTools(defs []model.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(defs))
	for i, d := range defs {
		decls[i] = &genai.FunctionDeclaration{
			Name:        d.Function.Name,
			Description: d.Function.Description,
			Parameters:  toSchema(d.Function.Parameters),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toSchema converts the JSON Schema subset used by tool definitions.
func toSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{}
	switch s["type"] {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if desc, ok := s["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				out.Properties[name] = toSchema(pm)
			}
		}
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = toSchema(items)
	}
	switch req := s["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	switch enum := s["enum"].(type) {
	case []string:
		out.Enum = enum
	case []any:
		for _, e := range enum {
			out.Enum = append(out.Enum, fmt.Sprint(e))
		}
	}
	if v, ok := toFloat(s["minimum"]); ok {
		out.Minimum = &v
	}
	if v, ok := toFloat(s["maximum"]); ok {
		out.Maximum = &v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "gemini", SupportsTools: true}
}
