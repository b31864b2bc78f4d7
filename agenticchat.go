// Package agenticchat provides a high-level façade over the control loop and
// the runner. Most applications interact with this package by:
//  1. Creating a Chat via New() with a model and the tools the agent may call
//  2. Submitting user messages to threads asynchronously (Submit) or
//     synchronously (SubmitSync)
//  3. Serving the event stream to clients (Handler) or folding it into a
//     reconciler.Manager
//
// All defaults are safe for local development and testing: checkpoints and
// artifacts live in memory. Production deployments supply durable stores and
// a structured logger.
package agenticchat

import (
	"context"
	"errors"
	"net/http"

	"github.com/shapeshift/agentic-chat/artifact"
	"github.com/shapeshift/agentic-chat/checkpoint"
	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/flow"
	"github.com/shapeshift/agentic-chat/logging"
	"github.com/shapeshift/agentic-chat/model"
	"github.com/shapeshift/agentic-chat/runner"
	"github.com/shapeshift/agentic-chat/tool"
	"github.com/shapeshift/agentic-chat/transport/ws"
)

// Options configures a Chat.
type Options struct {
	// Tools the model may call.
	Tools []tool.Tool
	// Instruction is the system instruction prepended to every invocation.
	Instruction flow.Instruction
	Hooks       flow.Hooks
	Loop        flow.LoopOptions

	// BusyPolicy decides what happens when a thread already has a run.
	BusyPolicy runner.BusyPolicy
	// Sinks receive a copy of every event.
	Sinks []runner.Sink
	// EventBufferSize sets the per-run event channel buffer.
	EventBufferSize int

	// Stores (default to in-memory implementations if not provided)
	Checkpoints core.CheckpointStore
	Artifacts   core.ArtifactStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Chat aggregates the tool registry, the control loop and the runner.
type Chat struct {
	opts     Options
	registry *tool.Registry
	loop     *flow.Loop
	runner   *runner.Runner
}

// New creates a Chat driven by m. Any unset store is initialised with an
// in-memory implementation.
func New(m model.Model, optFns ...func(o *Options)) (*Chat, error) {
	opts := Options{
		Checkpoints: checkpoint.NewInMemoryStore(),
		Artifacts:   artifact.NewInMemoryStore(),
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	registry := tool.NewRegistry()
	for _, t := range opts.Tools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	loop, err := flow.NewLoop(flow.LoopConfig{
		Model:       m,
		Tools:       registry,
		Checkpoints: opts.Checkpoints,
		Artifacts:   opts.Artifacts,
		Instruction: opts.Instruction,
		Hooks:       opts.Hooks,
		Options:     opts.Loop,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	r := runner.New(loop, func(o *runner.Options) {
		o.BusyPolicy = opts.BusyPolicy
		o.Sinks = opts.Sinks
		o.Logger = opts.Logger
		if opts.EventBufferSize > 0 {
			o.EventBufferSize = opts.EventBufferSize
		}
	})

	return &Chat{opts: opts, registry: registry, loop: loop, runner: r}, nil
}

// Registry returns the tool registry.
func (c *Chat) Registry() *tool.Registry { return c.registry }

// Runner returns the underlying runner.
func (c *Chat) Runner() *runner.Runner { return c.runner }

// Submit starts a run appending content to threadID. Events arrive on the
// returned channel, which is closed after the terminal event.
func (c *Chat) Submit(ctx context.Context, threadID, content string) (string, <-chan core.Event, error) {
	return c.runner.Submit(ctx, threadID, content)
}

// SubmitSync is a synchronous helper that drains the event stream and
// returns the run id and every event. A failed run returns its *core.RunError.
func (c *Chat) SubmitSync(ctx context.Context, threadID, content string) (string, []core.Event, error) {
	runID, eventsCh, err := c.runner.Submit(ctx, threadID, content)
	if err != nil {
		return "", nil, err
	}

	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			// The run is bound to ctx; the runner stops delivering to an
			// abandoned channel once ctx is done.
			return runID, events, ctx.Err()

		case ev, ok := <-eventsCh:
			if !ok {
				return runID, events, errors.New("event stream closed without a terminal event")
			}
			events = append(events, ev)
			if ev.Type == core.EventRunFailed {
				if ev.Error == nil {
					return runID, events, core.NewRunError(core.CodeInternal, "run failed")
				}
				return runID, events, ev.Error
			}
			if ev.Type == core.EventRunEnded {
				return runID, events, nil
			}
		}
	}
}

// Cancel cancels an active run.
func (c *Chat) Cancel(runID string) error { return c.runner.Cancel(runID) }

// History returns the committed log of threadID.
func (c *Chat) History(ctx context.Context, threadID string) ([]core.Message, error) {
	return c.opts.Checkpoints.Get(ctx, threadID)
}

// Handler returns a WebSocket handler serving runs of this chat.
func (c *Chat) Handler(optFns ...func(o *ws.HandlerOptions)) http.Handler {
	return ws.NewHandler(c.runner, append([]func(o *ws.HandlerOptions){ws.WithHandlerLogger(c.opts.Logger)}, optFns...)...)
}

// Shutdown cancels active runs and waits for them to end.
func (c *Chat) Shutdown(ctx context.Context) error { return c.runner.Shutdown(ctx) }
