package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/logging"
	"github.com/shapeshift/agentic-chat/tool"
)

// ExecutorConfig configures the ordered parallel executor.
type ExecutorConfig struct {
	MaxParallel int           // 0 or <1 => whole batch in parallel
	Timeout     time.Duration // per call, 0 => none
	Artifacts   core.ArtifactStore
	Logger      logging.Logger
}

// Batch is the set of tool calls requested by one assistant message.
type Batch struct {
	ThreadID string
	RunID    string
	History  []core.Message
	Calls    []core.ToolCall
}

// Executor runs tool batches. Calls may run concurrently but their results
// are released in request order: ToolExecutionEnded for call i is emitted as
// soon as calls 0..i have completed.
type Executor struct {
	registry *tool.Registry
	cfg      ExecutorConfig
	logger   logging.Logger
}

// NewExecutor constructs an executor bound to registry.
func NewExecutor(registry *tool.Registry, cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Executor{registry: registry, cfg: cfg, logger: logger}
}

type completion struct {
	index    int
	result   core.ToolResult
	err      error
	duration time.Duration
}

// Execute runs every call of b and returns the tool messages in request order.
// It returns early with the context error when ctx is cancelled; results of
// calls already released have been emitted but are not returned.
func (e *Executor) Execute(ctx context.Context, b Batch, hooks Hooks, emit EmitFunc) ([]core.Message, error) {
	n := len(b.Calls)
	logger := scopedLogger(e.logger, b.ThreadID, b.RunID)
	if n == 0 {
		return nil, nil
	}

	for _, call := range b.Calls {
		if hooks.BeforeTool != nil {
			if err := hooks.BeforeTool(ctx, call); err != nil {
				return nil, fmt.Errorf("before tool hook for %s: %w", call.Name, err)
			}
		}
		emit(core.NewToolExecutionStartedEvent(call))
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	sem := make(chan struct{}, maxPar)
	done := make(chan completion, n)
	batchStart := time.Now()

	go func() {
		for i := range b.Calls {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(idx int, call core.ToolCall) {
				defer func() { <-sem }()
				done <- e.executeOne(ctx, b, call, idx)
			}(i, b.Calls[i])
		}
	}()

	pending := make([]*completion, n)
	messages := make([]core.Message, 0, n)
	next := 0

	for next < n {
		select {
		case <-ctx.Done():
			logger.Warn("loop.tools.interrupted", "completed", next, "requested", n)
			return nil, ctx.Err()
		case c := <-done:
			pending[c.index] = &c
		}

		for next < n && pending[next] != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c := pending[next]
			call := b.Calls[next]

			logging.LogToolCall(logger, call.Name, call.ID, c.duration, c.err)

			if len(c.result.Artifact) > 0 && e.cfg.Artifacts != nil {
				if err := e.cfg.Artifacts.Save(b.ThreadID, call.ID, c.result.Artifact); err != nil {
					logger.Warn("loop.tool.artifact.error", "tool", call.Name, "tool_call_id", call.ID, "error", err.Error())
				}
			}

			msg := core.NewToolMessage(call.ID, call.Name, c.result.Content)
			messages = append(messages, msg)
			emit(core.NewToolExecutionEndedEvent(call, msg, c.result))

			if hooks.AfterTool != nil {
				if err := hooks.AfterTool(ctx, call, c.result, c.err); err != nil {
					return nil, fmt.Errorf("after tool hook for %s: %w", call.Name, err)
				}
			}
			next++
		}
	}

	logger.Debug(
		"loop.tools.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return messages, nil
}

// executeOne runs a single call under the per call timeout. A handler that
// ignores its context is abandoned when the timeout elapses.
func (e *Executor) executeOne(ctx context.Context, b Batch, call core.ToolCall, idx int) completion {
	callCtx := ctx
	cancel := func() {}
	if e.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	}
	defer cancel()

	toolCtx := core.NewToolContext(callCtx, core.ToolContextConfig{
		ThreadID:   b.ThreadID,
		RunID:      b.RunID,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		History:    b.History,
		Artifacts:  e.cfg.Artifacts,
		Logger:     scopedLogger(e.logger, b.ThreadID, b.RunID),
	})

	start := time.Now()
	type outcome struct {
		result core.ToolResult
		err    error
	}
	resCh := make(chan outcome, 1)
	go func() {
		res, err := e.registry.Execute(toolCtx, call)
		resCh <- outcome{res, err}
	}()

	select {
	case out := <-resCh:
		var err error
		if out.err != nil {
			err = &core.ToolExecutionError{Tool: call.Name, CallID: call.ID, Err: out.err}
		}
		return completion{index: idx, result: out.result, err: err, duration: time.Since(start)}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			err := ctx.Err()
			return completion{index: idx, result: tool.ErrorResult(err), err: err, duration: time.Since(start)}
		}
		toolErr := &tool.ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("timed out after %s", e.cfg.Timeout),
			Code:    tool.CodeTimeout,
		}
		return completion{
			index:    idx,
			result:   tool.ErrorResult(toolErr),
			err:      &core.ToolExecutionError{Tool: call.Name, CallID: call.ID, Err: toolErr},
			duration: time.Since(start),
		}
	}
}
