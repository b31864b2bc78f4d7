package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/model"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Registry maps tool names to implementations. It is constructed explicitly
// and handed to the control loop; there is no package level registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools. It panics on
// duplicate names.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.MustRegister(t)
	}
	return r
}

// Register adds t under its name.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the tool declarations handed to the model, sorted by name.
func (r *Registry) Definitions() []model.ToolDefinition {
	names := r.Names()
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, _ := r.Get(name)
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs call against the registered tool. It never panics: a handler
// panic is converted into a PANIC tool error. On failure the returned result
// is the error rendering fed back to the model and err is the *ToolError.
func (r *Registry) Execute(toolCtx *core.ToolContext, call core.ToolCall) (result core.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			toolCtx.LogError("tool.call.panic", "tool", call.Name, "recover", fmt.Sprint(rec), "stack", string(debug.Stack()))
			err = &ToolError{Tool: call.Name, Message: fmt.Sprintf("panic: %v", rec), Code: CodePanic}
			result = ErrorResult(err)
		}
	}()

	impl, ok := r.Get(call.Name)
	if !ok {
		err = &ToolError{Tool: call.Name, Message: fmt.Sprintf("tool %s not found", call.Name), Code: CodeNotFound}
		return ErrorResult(err), err
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 && string(call.Arguments) != "null" {
		if uerr := json.Unmarshal(call.Arguments, &args); uerr != nil {
			err = &ToolError{Tool: call.Name, Message: fmt.Sprintf("failed to unmarshal args: %v", uerr), Code: CodeValidation}
			return ErrorResult(err), err
		}
	}

	value, callErr := impl.Call(toolCtx, args)
	if callErr != nil {
		var toolErr *ToolError
		if !errors.As(callErr, &toolErr) {
			toolErr = &ToolError{Tool: call.Name, Message: callErr.Error(), Code: CodeExecution}
		}
		return ErrorResult(toolErr), toolErr
	}

	result, err = NormalizeResult(value)
	if err != nil {
		toolErr := &ToolError{Tool: call.Name, Message: err.Error(), Code: CodeExecution}
		return ErrorResult(toolErr), toolErr
	}

	return result, nil
}
