// Package flow implements the agent control loop: a small state machine that
// alternates model invocations and tool batches over a thread's message log,
// checkpoints each committed transition and emits the run's event protocol.
package flow

import (
	"context"
	"sync"
	"time"

	"github.com/shapeshift/agentic-chat/core"
)

// State is a control loop state.
type State int

const (
	StateStart State = iota
	StateInvokeModel
	StateDecide
	StateExecuteTools
	StateEnd
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateInvokeModel:
		return "invoke_model"
	case StateDecide:
		return "decide"
	case StateExecuteTools:
		return "execute_tools"
	case StateEnd:
		return "end"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool { return s == StateEnd || s == StateFailed }

// DefaultMaxSteps is the default cap on model invocations per run.
const DefaultMaxSteps = 25

// LoopOptions tunes the control loop. Zero values select the defaults.
type LoopOptions struct {
	// MaxSteps caps the number of model invocations per run. Negative
	// disables the cap.
	MaxSteps int
	// ModelTimeout bounds one model attempt.
	ModelTimeout time.Duration
	// ToolTimeout bounds one tool call.
	ToolTimeout time.Duration
	// MaxRetries is the number of retries after a failed model attempt.
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// MaxParallelTools limits concurrently running tool calls of one batch.
	// Zero runs the whole batch in parallel.
	MaxParallelTools int
	// Stream requests incremental chunks from the model.
	Stream bool
}

func (o *LoopOptions) applyDefaults() {
	if o.MaxSteps == 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.MaxSteps < 0 {
		o.MaxSteps = 0
	}
	if o.ModelTimeout == 0 {
		o.ModelTimeout = 2 * time.Minute
	}
	if o.ToolTimeout == 0 {
		o.ToolTimeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInitialInterval == 0 {
		o.RetryInitialInterval = 500 * time.Millisecond
	}
	if o.RetryMaxInterval == 0 {
		o.RetryMaxInterval = 10 * time.Second
	}
}

// Hooks are optional callbacks around model and tool activity. A hook
// returning an error fails the run.
//
// AfterTool receives the call outcome: callErr is a *core.ToolExecutionError
// when the handler failed, nil otherwise.
type Hooks struct {
	BeforeModel func(ctx context.Context, step int, input []core.Message) error
	AfterModel  func(ctx context.Context, step int, final core.Message) error
	BeforeTool  func(ctx context.Context, call core.ToolCall) error
	AfterTool   func(ctx context.Context, call core.ToolCall, result core.ToolResult, callErr error) error
}

// RunInput identifies a run and carries the new user message.
type RunInput struct {
	ThreadID string
	RunID    string
	Message  core.Message
}

// EmitFunc receives every event of a run in order. It is called from a single
// goroutine.
type EmitFunc func(core.Event)

// emitter stamps the run envelope on events before handing them out.
type emitter struct {
	mu       sync.Mutex
	threadID string
	runID    string
	seq      int64
	step     int
	out      EmitFunc
}

func newEmitter(in RunInput, out EmitFunc) *emitter {
	if out == nil {
		out = func(core.Event) {}
	}
	return &emitter{threadID: in.ThreadID, runID: in.RunID, out: out}
}

func (e *emitter) setStep(step int) {
	e.mu.Lock()
	e.step = step
	e.mu.Unlock()
}

func (e *emitter) emit(ev core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	ev.RunID = e.runID
	ev.ThreadID = e.threadID
	ev.Seq = e.seq
	ev.Step = e.step
	e.out(ev)
}
