package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/flow"
	"github.com/shapeshift/agentic-chat/logging"
)

// BusyPolicy decides what Submit does when the thread already has an active run.
type BusyPolicy int

const (
	// BusyReject fails the submit with core.ErrThreadBusy.
	BusyReject BusyPolicy = iota
	// BusyQueue waits until the active run finished or ctx is done.
	BusyQueue
)

// Sink receives a copy of every event. Sinks are called synchronously from
// the run goroutine; failures are logged and never affect the run.
type Sink interface {
	Publish(ctx context.Context, ev core.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev core.Event) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, ev core.Event) error { return f(ctx, ev) }

// Options holds configuration overrides passed to New.
type Options struct {
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// BusyPolicy selects reject (default) or queue semantics for busy threads.
	BusyPolicy BusyPolicy
	// SinkTimeout bounds a single sink publish.
	SinkTimeout time.Duration
	// TerminalTimeout bounds how long the terminal event waits for room in
	// an undrained event channel before it is dropped.
	TerminalTimeout time.Duration
	// Sinks receive a copy of every event.
	Sinks []Sink
	// Logger receives runner logs.
	Logger logging.Logger
}

// RunInfo describes an active run.
type RunInfo struct {
	RunID     string
	ThreadID  string
	StartedAt time.Time
}

type activeRun struct {
	info     RunInfo
	cancel   context.CancelFunc
	done     chan struct{}
	released sync.Once
}

// Runner coordinates runs of a flow.Loop. Public methods are safe for
// concurrent use.
type Runner struct {
	loop *flow.Loop
	opts Options

	mu      sync.Mutex
	threads map[string]*activeRun // threadID -> run
	runs    map[string]*activeRun // runID -> run
}

// New constructs a Runner with optional overrides.
func New(loop *flow.Loop, optFns ...func(o *Options)) *Runner {
	opts := Options{
		EventBufferSize: 100,
		BusyPolicy:      BusyReject,
		SinkTimeout:     5 * time.Second,
		TerminalTimeout: 5 * time.Second,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Runner{
		loop:    loop,
		opts:    opts,
		threads: make(map[string]*activeRun),
		runs:    make(map[string]*activeRun),
	}
}

// WithLogger sets the runner logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithSinks appends event sinks.
func WithSinks(sinks ...Sink) func(o *Options) {
	return func(o *Options) { o.Sinks = append(o.Sinks, sinks...) }
}

// WithBusyPolicy sets the busy thread policy.
func WithBusyPolicy(p BusyPolicy) func(o *Options) {
	return func(o *Options) { o.BusyPolicy = p }
}

// Submit starts a run that appends content as a user message to threadID.
// Resubmitting on an existing thread resumes its persisted log. The run is
// bound to ctx: cancelling ctx cancels the run.
func (r *Runner) Submit(ctx context.Context, threadID, content string) (string, <-chan core.Event, error) {
	return r.SubmitMessage(ctx, threadID, core.NewUserMessage(content))
}

// SubmitMessage is like Submit for a prepared user message, e.g. one whose id
// was assigned by the client.
func (r *Runner) SubmitMessage(ctx context.Context, threadID string, msg core.Message) (string, <-chan core.Event, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", nil, core.NewRunError(core.CodeInvalidArgument, "thread id is required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return "", nil, core.NewRunError(core.CodeInvalidArgument, "message content is required")
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	msg.Role = core.RoleUser

	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{
		info:   RunInfo{RunID: core.NewID(), ThreadID: threadID, StartedAt: time.Now().UTC()},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := r.acquire(ctx, run); err != nil {
		cancel()
		return "", nil, err
	}

	events := make(chan core.Event, r.opts.EventBufferSize)
	logger := r.scopedLogger(run.info)

	go func() {
		defer func() {
			close(events)
			r.release(run)
			cancel()
		}()

		logger.Info("runner.run.start")
		start := time.Now()

		err := r.loop.Run(runCtx, flow.RunInput{
			ThreadID: threadID,
			RunID:    run.info.RunID,
			Message:  msg,
		}, func(ev core.Event) {
			r.publish(runCtx, logger, ev)
			if ev.IsTerminal() {
				// Free the thread before the consumer can observe the end of the run.
				r.release(run)
				r.deliverTerminal(logger, events, ev)
				return
			}
			// A consumer that stopped reading must not keep a cancelled run
			// from reaching its terminal event.
			select {
			case events <- ev:
			case <-runCtx.Done():
				logger.Debug("runner.event.dropped", "event", string(ev.Type), "seq", ev.Seq)
			}
		})

		if err != nil {
			logger.Warn("runner.run.end", "duration_ms", time.Since(start).Milliseconds(), "code", string(core.CodeOf(err)), "error", err.Error())
			return
		}
		logger.Info("runner.run.end", "duration_ms", time.Since(start).Milliseconds())
	}()

	return run.info.RunID, events, nil
}

// deliverTerminal hands the terminal event to the consumer, waiting at most
// TerminalTimeout for buffer room.
func (r *Runner) deliverTerminal(logger logging.Logger, events chan<- core.Event, ev core.Event) {
	select {
	case events <- ev:
		return
	default:
	}
	timer := time.NewTimer(r.opts.TerminalTimeout)
	defer timer.Stop()
	select {
	case events <- ev:
	case <-timer.C:
		logger.Warn("runner.event.dropped", "event", string(ev.Type), "seq", ev.Seq, "reason", "consumer not draining")
	}
}

// acquire registers run as the active run of its thread according to the
// busy policy.
func (r *Runner) acquire(ctx context.Context, run *activeRun) error {
	for {
		r.mu.Lock()
		current, busy := r.threads[run.info.ThreadID]
		if !busy {
			r.threads[run.info.ThreadID] = run
			r.runs[run.info.RunID] = run
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		if r.opts.BusyPolicy != BusyQueue {
			return fmt.Errorf("%w: %s (run %s)", core.ErrThreadBusy, run.info.ThreadID, current.info.RunID)
		}

		select {
		case <-current.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) release(run *activeRun) {
	run.released.Do(func() {
		r.mu.Lock()
		if r.threads[run.info.ThreadID] == run {
			delete(r.threads, run.info.ThreadID)
		}
		delete(r.runs, run.info.RunID)
		r.mu.Unlock()
		close(run.done)
	})
}

func (r *Runner) publish(ctx context.Context, logger logging.Logger, ev core.Event) {
	if len(r.opts.Sinks) == 0 {
		return
	}
	// Terminal events of cancelled runs must still reach the sinks.
	base := context.WithoutCancel(ctx)
	for _, sink := range r.opts.Sinks {
		sinkCtx, cancel := context.WithTimeout(base, r.opts.SinkTimeout)
		if err := sink.Publish(sinkCtx, ev); err != nil {
			logger.Warn("runner.sink.error", "event", string(ev.Type), "seq", ev.Seq, "error", err.Error())
		}
		cancel()
	}
}

func (r *Runner) scopedLogger(info RunInfo) logging.Logger {
	if cl, ok := r.opts.Logger.(*logging.ChatLogger); ok {
		return cl.WithComponent("runner").WithThread(info.ThreadID, info.RunID)
	}
	return r.opts.Logger
}

// Cancel cancels an active run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	run, exists := r.runs[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	run.cancel()

	return nil
}

// CancelThread cancels the active run of threadID.
func (r *Runner) CancelThread(threadID string) error {
	r.mu.Lock()
	run, exists := r.threads[threadID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("no active run for thread %s", threadID)
	}

	run.cancel()

	return nil
}

// ActiveRuns returns the active runs ordered by thread id.
func (r *Runner) ActiveRuns() []RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RunInfo, 0, len(r.threads))
	for _, run := range r.threads {
		out = append(out, run.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out
}

// Wait blocks until the run finished or ctx is done. Unknown runs return
// immediately.
func (r *Runner) Wait(ctx context.Context, runID string) error {
	r.mu.Lock()
	run, exists := r.runs[runID]
	r.mu.Unlock()

	if !exists {
		return nil
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every active run and waits for them to finish.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	runs := make([]*activeRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	for _, run := range runs {
		run.cancel()
	}
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
