package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shapeshift/agentic-chat/checkpoint"
	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/flow"
	"github.com/shapeshift/agentic-chat/model"
)

func newRunner(t *testing.T, turns []model.Turn, optFns ...func(o *Options)) (*Runner, *checkpoint.InMemoryStore) {
	t.Helper()
	store := checkpoint.NewInMemoryStore()
	loop, err := flow.NewLoop(flow.LoopConfig{
		Model:       model.NewScriptedModel(turns...),
		Checkpoints: store,
	})
	require.NoError(t, err)
	return New(loop, optFns...), store
}

func drain(t *testing.T, ch <-chan core.Event) []core.Event {
	t.Helper()
	var out []core.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
			return out
		}
	}
}

func TestRunner_Submit(t *testing.T) {
	r, store := newRunner(t, []model.Turn{{Content: "hello"}})

	runID, events, err := r.Submit(context.Background(), "t1", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	evs := drain(t, events)
	require.NotEmpty(t, evs)
	assert.Equal(t, core.EventRunStarted, evs[0].Type)
	assert.Equal(t, core.EventRunEnded, evs[len(evs)-1].Type)
	for _, ev := range evs {
		assert.Equal(t, runID, ev.RunID)
	}

	log, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, log, 2)
	assert.Empty(t, r.ActiveRuns())
}

func TestRunner_InvalidArguments(t *testing.T) {
	r, _ := newRunner(t, nil)

	_, _, err := r.Submit(context.Background(), "", "hi")
	assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))

	_, _, err = r.Submit(context.Background(), "t", "  ")
	assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))
}

func TestRunner_BusyRejectAndCancel(t *testing.T) {
	r, store := newRunner(t, []model.Turn{{Delay: 5 * time.Second, Content: "slow"}})

	runID, events, err := r.Submit(context.Background(), "busy", "first")
	require.NoError(t, err)

	_, _, err = r.Submit(context.Background(), "busy", "second")
	assert.ErrorIs(t, err, core.ErrThreadBusy)
	assert.Equal(t, core.CodeThreadBusy, core.CodeOf(err))

	active := r.ActiveRuns()
	require.Len(t, active, 1)
	assert.Equal(t, runID, active[0].RunID)

	require.NoError(t, r.Cancel(runID))
	evs := drain(t, events)
	last := evs[len(evs)-1]
	assert.Equal(t, core.EventRunFailed, last.Type)
	assert.Equal(t, core.CodeCancelled, last.Error.Code)

	log, _ := store.Get(context.Background(), "busy")
	assert.Empty(t, log)

	assert.Error(t, r.Cancel(runID))
}

func TestRunner_CancelThread(t *testing.T) {
	r, _ := newRunner(t, []model.Turn{{Delay: 5 * time.Second}})

	_, events, err := r.Submit(context.Background(), "ct", "go")
	require.NoError(t, err)
	require.NoError(t, r.CancelThread("ct"))

	evs := drain(t, events)
	assert.Equal(t, core.CodeCancelled, evs[len(evs)-1].Error.Code)
	assert.Error(t, r.CancelThread("ct"))
}

func TestRunner_BusyQueue(t *testing.T) {
	r, store := newRunner(t,
		[]model.Turn{{Delay: 50 * time.Millisecond, Content: "one"}, {Content: "two"}},
		WithBusyPolicy(BusyQueue),
	)

	_, first, err := r.Submit(context.Background(), "q", "first")
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		second <-chan core.Event
		subErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, second, subErr = r.Submit(context.Background(), "q", "second")
	}()

	drain(t, first)
	wg.Wait()
	require.NoError(t, subErr)
	evs := drain(t, second)
	assert.Equal(t, core.EventRunEnded, evs[len(evs)-1].Type)

	log, _ := store.Get(context.Background(), "q")
	require.Len(t, log, 4)
	assert.Equal(t, "first", log[0].Content)
	assert.Equal(t, "second", log[2].Content)
}

func TestRunner_BusyQueueContextDone(t *testing.T) {
	r, _ := newRunner(t, []model.Turn{{Delay: 5 * time.Second}}, WithBusyPolicy(BusyQueue))

	runID, events, err := r.Submit(context.Background(), "qc", "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = r.Submit(ctx, "qc", "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, r.Cancel(runID))
	drain(t, events)
}

func TestRunner_ResubmitAfterTerminalEvent(t *testing.T) {
	r, store := newRunner(t, []model.Turn{{Content: "one"}, {Content: "two"}})

	_, events, err := r.Submit(context.Background(), "again", "first")
	require.NoError(t, err)
	for ev := range events {
		if ev.IsTerminal() {
			break
		}
	}

	_, events2, err := r.Submit(context.Background(), "again", "second")
	require.NoError(t, err)
	drain(t, events2)
	drain(t, events)

	log, _ := store.Get(context.Background(), "again")
	assert.Len(t, log, 4)
}

func TestRunner_Sinks(t *testing.T) {
	var (
		mu       sync.Mutex
		received []core.EventType
	)
	collect := SinkFunc(func(_ context.Context, ev core.Event) error {
		mu.Lock()
		received = append(received, ev.Type)
		mu.Unlock()
		return nil
	})
	failing := SinkFunc(func(context.Context, core.Event) error { return errors.New("broker down") })

	r, _ := newRunner(t, []model.Turn{{Content: "ok"}}, WithSinks(failing, collect))
	_, events, err := r.Submit(context.Background(), "s", "hi")
	require.NoError(t, err)
	evs := drain(t, events)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, len(evs))
	assert.Equal(t, core.EventRunEnded, received[len(received)-1])
}

func TestRunner_ThreadsRunIndependently(t *testing.T) {
	r, store := newRunner(t, []model.Turn{{Content: "a"}, {Content: "b"}})

	_, ea, err := r.Submit(context.Background(), "ta", "x")
	require.NoError(t, err)
	_, eb, err := r.Submit(context.Background(), "tb", "y")
	require.NoError(t, err)

	drain(t, ea)
	drain(t, eb)

	la, _ := store.Get(context.Background(), "ta")
	lb, _ := store.Get(context.Background(), "tb")
	assert.Len(t, la, 2)
	assert.Len(t, lb, 2)
}

func TestRunner_Shutdown(t *testing.T) {
	r, _ := newRunner(t, []model.Turn{{Delay: 5 * time.Second}})
	_, events, err := r.Submit(context.Background(), "sd", "go")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	<-done
	assert.Empty(t, r.ActiveRuns())
}

func TestRunner_UndrainedConsumerDoesNotWedgeThread(t *testing.T) {
	chunks := make([]string, 300)
	for i := range chunks {
		chunks[i] = "x"
	}
	loop, err := flow.NewLoop(flow.LoopConfig{
		Model: model.NewScriptedModel(
			model.Turn{ID: "m1", Chunks: chunks, Content: "long answer"},
			model.Turn{Content: "again"},
		),
		Checkpoints: checkpoint.NewInMemoryStore(),
		Options:     flow.LoopOptions{Stream: true},
	})
	require.NoError(t, err)
	r := New(loop, func(o *Options) {
		o.EventBufferSize = 10
		o.TerminalTimeout = 50 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	runID, abandoned, err := r.Submit(ctx, "t", "stream a lot")
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, r.Wait(waitCtx, runID))
	assert.Empty(t, r.ActiveRuns())

	_, events, err := r.Submit(context.Background(), "t", "once more")
	require.NoError(t, err)
	evs := drain(t, events)
	assert.Equal(t, core.EventRunEnded, evs[len(evs)-1].Type)

	// The abandoned channel is still closed once the run goroutine exits.
	stale := drain(t, abandoned)
	assert.LessOrEqual(t, len(stale), 10)
}
