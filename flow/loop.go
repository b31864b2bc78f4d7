package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/logging"
	"github.com/shapeshift/agentic-chat/model"
	"github.com/shapeshift/agentic-chat/tool"
)

// LoopConfig wires the collaborators of a Loop.
type LoopConfig struct {
	Model       model.Model
	Tools       *tool.Registry
	Checkpoints core.CheckpointStore
	Artifacts   core.ArtifactStore
	Instruction Instruction
	Hooks       Hooks
	Options     LoopOptions
	Logger      logging.Logger
}

// Loop drives runs against threads. A Loop holds no per-run state and may
// serve many threads concurrently; callers must ensure that at most one run
// per thread is active at a time.
type Loop struct {
	model       model.Model
	tools       *tool.Registry
	checkpoints core.CheckpointStore
	instruction Instruction
	hooks       Hooks
	opts        LoopOptions
	executor    *Executor
	logger      logging.Logger
}

// NewLoop validates cfg and creates a Loop.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("loop requires a model")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("loop requires a checkpoint store")
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	cfg.Options.applyDefaults()

	return &Loop{
		model:       cfg.Model,
		tools:       cfg.Tools,
		checkpoints: cfg.Checkpoints,
		instruction: cfg.Instruction,
		hooks:       cfg.Hooks,
		opts:        cfg.Options,
		executor: NewExecutor(cfg.Tools, ExecutorConfig{
			MaxParallel: cfg.Options.MaxParallelTools,
			Timeout:     cfg.Options.ToolTimeout,
			Artifacts:   cfg.Artifacts,
			Logger:      cfg.Logger,
		}),
		logger: cfg.Logger,
	}, nil
}

// Options returns the effective loop options.
func (l *Loop) Options() LoopOptions { return l.opts }

// Run executes one run for in.ThreadID. The persisted log is resumed and the
// new user message appended. Every event is passed to emit, the last one
// being run_ended or run_failed. The returned error is the failure reported
// by run_failed.
//
// Checkpoints are written at committed transitions only: a final answer is
// committed right away, an assistant turn requesting tools is committed
// together with the results of its tool batch. An interrupted transition is
// never persisted.
func (l *Loop) Run(ctx context.Context, in RunInput, emit EmitFunc) error {
	if in.ThreadID == "" {
		return fmt.Errorf("thread id is required")
	}
	if in.RunID == "" {
		in.RunID = core.NewID()
	}
	if in.Message.ID == "" {
		in.Message.ID = core.NewID()
	}
	if in.Message.Role == "" {
		in.Message.Role = core.RoleUser
	}

	em := newEmitter(in, emit)
	logger := scopedLogger(l.logger, in.ThreadID, in.RunID)
	limiter := core.NewStepLimiter(l.opts.MaxSteps)
	start := time.Now()

	var (
		state     = StateStart
		working   []core.Message
		candidate core.Message
		runErr    error
	)

	for {
		logger.Debug("loop.state", "state", state.String(), "step", limiter.Count(), "remaining", limiter.Remaining())

		switch state {
		case StateStart:
			em.emit(core.NewRunStartedEvent())

			prior, err := l.checkpoints.Get(ctx, in.ThreadID)
			if err != nil {
				runErr, state = fmt.Errorf("load checkpoint: %w", err), StateFailed
				continue
			}
			working = append(core.CloneLog(prior), in.Message)
			state = StateInvokeModel

		case StateInvokeModel:
			if err := ctx.Err(); err != nil {
				runErr, state = err, StateFailed
				continue
			}
			if err := limiter.Increment(); err != nil {
				runErr, state = err, StateFailed
				continue
			}
			step := limiter.Count()
			em.setStep(step)

			final, err := l.invokeModel(ctx, em, logger, in, step, working)
			if err != nil {
				runErr, state = err, StateFailed
				continue
			}
			candidate = final
			working = append(working, candidate)
			state = StateDecide

		case StateDecide:
			if !candidate.HasToolCalls() {
				if err := l.commit(ctx, in.ThreadID, working); err != nil {
					runErr, state = err, StateFailed
					continue
				}
				state = StateEnd
				continue
			}
			state = StateExecuteTools

		case StateExecuteTools:
			results, err := l.executor.Execute(ctx, Batch{
				ThreadID: in.ThreadID,
				RunID:    in.RunID,
				History:  working,
				Calls:    candidate.ToolCalls,
			}, l.hooks, em.emit)
			if err != nil {
				runErr, state = err, StateFailed
				continue
			}
			working = append(working, results...)
			if err := l.commit(ctx, in.ThreadID, working); err != nil {
				runErr, state = err, StateFailed
				continue
			}
			state = StateInvokeModel

		case StateEnd:
			em.emit(core.NewRunEndedEvent())
			logging.LogRun(logger, limiter.Count(), time.Since(start), nil)
			return nil

		case StateFailed:
			runErr = classify(ctx, runErr)
			em.emit(core.NewRunFailedEvent(runErr))
			logging.LogRun(logger, limiter.Count(), time.Since(start), runErr, "code", string(core.CodeOf(runErr)))
			return runErr
		}
	}
}

func (l *Loop) commit(ctx context.Context, threadID string, log []core.Message) error {
	if err := l.checkpoints.Put(ctx, threadID, log); err != nil {
		return &core.CheckpointPersistError{ThreadID: threadID, Err: err}
	}
	return nil
}

// classify maps an interruption of the run context onto the cancellation
// sentinel, whatever layer reported it.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, core.ErrCancelled) {
		return fmt.Errorf("%w: %v", core.ErrCancelled, err)
	}
	return err
}

func scopedLogger(l logging.Logger, threadID, runID string) logging.Logger {
	if cl, ok := l.(*logging.ChatLogger); ok {
		return cl.WithComponent("loop").WithThread(threadID, runID)
	}
	return l
}

// invokeModel runs one model invocation with retries and emits its events.
// Attempts that already streamed chunks are not retried: the open message
// they started cannot be retracted.
func (l *Loop) invokeModel(
	ctx context.Context,
	em *emitter,
	logger logging.Logger,
	in RunInput,
	step int,
	log []core.Message,
) (core.Message, error) {
	instruction, err := l.instruction.Resolve(InstructionContext{
		Context:  ctx,
		ThreadID: in.ThreadID,
		RunID:    in.RunID,
		Step:     step,
		Messages: core.CloneLog(log),
		Now:      time.Now().UTC(),
	})
	if err != nil {
		return core.Message{}, fmt.Errorf("resolve instruction: %w", err)
	}

	if l.hooks.BeforeModel != nil {
		if err := l.hooks.BeforeModel(ctx, step, core.CloneLog(log)); err != nil {
			return core.Message{}, fmt.Errorf("before model hook: %w", err)
		}
	}

	em.emit(core.NewModelInvocationStartedEvent(log))

	req := model.Request{
		Instructions: instruction,
		Messages:     core.CloneLog(log),
		Tools:        l.tools.Definitions(),
		Stream:       l.opts.Stream,
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.opts.RetryInitialInterval
	eb.MaxInterval = l.opts.RetryMaxInterval
	eb.MaxElapsedTime = 0

	var (
		attempts int
		streamed bool
		start    = time.Now()
	)

	operation := func() (core.Message, error) {
		attempts++
		msg, chunked, err := l.attempt(ctx, em, req)
		streamed = streamed || chunked
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil || streamed {
			return core.Message{}, backoff.Permanent(err)
		}
		return core.Message{}, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("loop.model.retry", "attempt", attempts, "wait_ms", wait.Milliseconds(), "error", err.Error())
	}

	final, err := backoff.RetryNotifyWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(eb, uint64(l.opts.MaxRetries)), ctx),
		notify,
	)

	info := l.model.Info()
	logging.LogModelCall(logger, info.Name, step, attempts, time.Since(start), err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}
		return core.Message{}, &core.ModelInvocationError{Model: info.Name, Attempts: attempts, Err: err}
	}

	em.emit(core.NewModelInvocationEndedEvent(final))

	if l.hooks.AfterModel != nil {
		if err := l.hooks.AfterModel(ctx, step, final.Clone()); err != nil {
			return core.Message{}, fmt.Errorf("after model hook: %w", err)
		}
	}

	return final, nil
}

// attempt performs one model call bounded by the model timeout. It reports
// whether any chunk was emitted.
func (l *Loop) attempt(ctx context.Context, em *emitter, req model.Request) (core.Message, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, l.opts.ModelTimeout)
	defer cancel()

	respCh, errCh := l.model.Generate(attemptCtx, req)

	var (
		final   *model.Response
		openID  string
		chunked bool
	)

	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				r := resp
				final = &r
				continue
			}
			if resp.Delta == "" {
				continue
			}
			id := resp.ID
			if openID == "" {
				if id == "" {
					id = core.NewID()
				}
				openID = id
			}
			em.emit(core.NewModelChunkEvent(openID, resp.Delta))
			chunked = true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return core.Message{}, chunked, attemptError(ctx, attemptCtx, l.opts.ModelTimeout, err)
			}
		case <-attemptCtx.Done():
			return core.Message{}, chunked, attemptError(ctx, attemptCtx, l.opts.ModelTimeout, attemptCtx.Err())
		}
	}

	if final == nil {
		return core.Message{}, chunked, fmt.Errorf("model stream ended without a final message")
	}

	return normalizeFinal(final.Message, openID), chunked, nil
}

func attemptError(ctx, attemptCtx context.Context, timeout time.Duration, err error) error {
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: model call exceeded %s", core.ErrTimeout, timeout)
	}
	return err
}

// normalizeFinal ensures the final message is a well formed assistant
// message. Its id is pinned to the streamed id so the open preview is
// replaced rather than duplicated.
func normalizeFinal(msg core.Message, openID string) core.Message {
	msg = msg.Clone()
	msg.Role = core.RoleAssistant
	msg.ToolCallID = ""
	switch {
	case openID != "":
		msg.ID = openID
	case msg.ID == "":
		msg.ID = core.NewID()
	}

	seen := make(map[string]struct{}, len(msg.ToolCalls))
	calls := msg.ToolCalls[:0]
	for _, tc := range msg.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			continue
		}
		if tc.ID == "" {
			tc.ID = "call-" + core.NewID()
		}
		if _, dup := seen[tc.ID]; dup {
			continue
		}
		seen[tc.ID] = struct{}{}
		tc.Result = nil
		calls = append(calls, tc)
	}
	if len(calls) == 0 {
		calls = nil
	}
	msg.ToolCalls = calls

	return msg
}
