package core

import (
	"context"
	"fmt"

	"github.com/shapeshift/agentic-chat/logging"
)

// ToolContext provides a constrained surface for tool implementations invoked
// by the control loop. It exposes the identifiers of the current run, a
// read-only snapshot of the thread log and the artifact store.
type ToolContext struct {
	ctx        context.Context
	threadID   string
	runID      string
	toolCallID string
	toolName   string
	history    []Message
	artifacts  ArtifactStore

	*loggerAdapter
}

// ToolContextConfig carries the values bound into a ToolContext.
type ToolContextConfig struct {
	ThreadID   string
	RunID      string
	ToolCallID string
	ToolName   string
	History    []Message
	Artifacts  ArtifactStore
	Logger     logging.Logger
}

// NewToolContext constructs a tool context bound to ctx.
func NewToolContext(ctx context.Context, cfg ToolContextConfig) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:           ctx,
		threadID:      cfg.ThreadID,
		runID:         cfg.RunID,
		toolCallID:    cfg.ToolCallID,
		toolName:      cfg.ToolName,
		history:       cfg.History,
		artifacts:     cfg.Artifacts,
		loggerAdapter: newLoggerAdapter(cfg.Logger),
	}
}

// Context returns the context of the tool invocation. It is cancelled when
// the run is cancelled or the tool timeout elapses.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ThreadID returns the thread the tool runs for.
func (tc *ToolContext) ThreadID() string { return tc.threadID }

// RunID returns the run the tool runs for.
func (tc *ToolContext) RunID() string { return tc.runID }

// ToolCallID returns the id of the tool call being executed.
func (tc *ToolContext) ToolCallID() string { return tc.toolCallID }

// ToolName returns the name of the tool being executed.
func (tc *ToolContext) ToolName() string { return tc.toolName }

// History returns a copy of the thread log as seen by the model invocation
// that requested this call.
func (tc *ToolContext) History() []Message { return CloneLog(tc.history) }

// SaveArtifact persists artifact bytes under the current thread.
func (tc *ToolContext) SaveArtifact(id string, data []byte) error {
	if tc.artifacts == nil {
		return fmt.Errorf("artifact store not configured")
	}

	return tc.artifacts.Save(tc.threadID, id, data)
}

// LoadArtifact retrieves a persisted artifact of the current thread.
func (tc *ToolContext) LoadArtifact(id string) ([]byte, error) {
	if tc.artifacts == nil {
		return nil, fmt.Errorf("artifact store not configured")
	}

	return tc.artifacts.Get(tc.threadID, id)
}

// ListArtifacts returns the artifact ids stored for the current thread.
func (tc *ToolContext) ListArtifacts() ([]string, error) {
	if tc.artifacts == nil {
		return nil, fmt.Errorf("artifact store not configured")
	}

	return tc.artifacts.List(tc.threadID)
}

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.threadID == "" || tc.toolCallID == "" {
		return fmt.Errorf("invalid ToolContext: thread and tool call ids are required")
	}
	return nil
}
