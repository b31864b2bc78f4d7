package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/logging"
	"github.com/shapeshift/agentic-chat/reconciler"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("ws: client closed")

// streamBuffer is the per-run event buffer. A live consumer that falls this
// far behind stalls the connection; an abandoned one never does.
const streamBuffer = 256

// stream routes the events of one run. Fields other than the channels are
// guarded by Client.mu.
type stream struct {
	events   chan core.Event
	ready    chan error
	gone     chan struct{} // closed when the consumer gave up
	finished chan struct{} // closed together with events

	started    bool
	abandoned  bool
	cancelSent bool
	runID      string
}

// Client is a WebSocket client for a Handler. It supports one in-flight run
// per thread and any number of threads.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  logging.Logger

	mu      sync.Mutex
	streams map[string]*stream
	err     error
	done    chan struct{}
}

// Dial connects to the server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		logger:  logging.NoOpLogger{},
		streams: make(map[string]*stream),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// SetLogger replaces the client logger.
func (c *Client) SetLogger(l logging.Logger) { c.logger = l }

// Submit starts a run on threadID and returns its events. It waits until the
// server either accepted the run (first event received) or rejected it; a
// rejection is returned as a *core.RunError. The channel is closed after the
// terminal event or when the connection drops.
//
// The run is bound to ctx: once ctx is done the client asks the server to
// cancel the run and discards its remaining events.
func (c *Client) Submit(ctx context.Context, threadID, content string) (<-chan core.Event, error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	if _, busy := c.streams[threadID]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s has a run in flight on this connection", core.ErrThreadBusy, threadID)
	}
	s := &stream{
		events:   make(chan core.Event, streamBuffer),
		ready:    make(chan error, 1),
		gone:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	c.streams[threadID] = s
	c.mu.Unlock()

	if err := c.write(ClientFrame{Type: FrameSubmit, ThreadID: threadID, Content: content}); err != nil {
		c.mu.Lock()
		if c.streams[threadID] == s {
			delete(c.streams, threadID)
		}
		c.mu.Unlock()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			c.abandon(s)
		case <-s.finished:
		}
	}()

	select {
	case err := <-s.ready:
		if err != nil {
			return nil, err
		}
		return s.events, nil
	case <-ctx.Done():
		c.abandon(s)
		return nil, ctx.Err()
	}
}

// abandon stops delivery to s and cancels its run on the server. When the
// run id is not known yet, the cancel is sent with the first event.
func (c *Client) abandon(s *stream) {
	c.mu.Lock()
	if s.abandoned {
		c.mu.Unlock()
		return
	}
	s.abandoned = true
	close(s.gone)
	runID := ""
	if s.runID != "" && !s.cancelSent {
		s.cancelSent = true
		runID = s.runID
	}
	c.mu.Unlock()

	if runID != "" {
		c.cancelAbandoned(runID)
	}
}

func (c *Client) cancelAbandoned(runID string) {
	if err := c.write(ClientFrame{Type: FrameCancel, RunID: runID}); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Warn("ws.client.cancel_failed", "run_id", runID, "error", err.Error())
	}
}

// Cancel asks the server to cancel runID.
func (c *Client) Cancel(_ context.Context, runID string) error {
	return c.write(ClientFrame{Type: FrameCancel, RunID: runID})
}

// Stream submits content on threadID and folds the resulting events into
// the thread's transcript of m. It returns the run's error, if it failed.
func (c *Client) Stream(ctx context.Context, m *reconciler.Manager, threadID, content string) error {
	events, err := c.Submit(ctx, threadID, content)
	if err != nil {
		return err
	}
	return m.Consume(ctx, threadID, events)
}

// Close closes the connection and waits for the reader to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) write(frame ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.conn.WriteJSON(frame)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			c.logger.Warn("ws.client.decode_failed", "error", err.Error())
			continue
		}

		if head.Type == FrameError {
			var frame ErrorFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Warn("ws.client.decode_failed", "error", err.Error())
				continue
			}
			c.reject(frame)
			continue
		}

		var ev core.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("ws.client.decode_failed", "error", err.Error())
			continue
		}
		c.deliver(ev)
	}
}

func (c *Client) deliver(ev core.Event) {
	c.mu.Lock()
	s, ok := c.streams[ev.ThreadID]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("ws.client.unrouted_event", "thread_id", ev.ThreadID, "type", string(ev.Type))
		return
	}
	if !s.started {
		s.started = true
		s.runID = ev.RunID
		s.ready <- nil
	}
	cancelRun := ""
	if s.abandoned && !s.cancelSent && s.runID != "" {
		s.cancelSent = true
		cancelRun = s.runID
	}
	if ev.IsTerminal() {
		delete(c.streams, ev.ThreadID)
	}
	c.mu.Unlock()

	if cancelRun != "" && !ev.IsTerminal() {
		// Writing from the read loop could stall it behind a slow writer.
		go c.cancelAbandoned(cancelRun)
	}

	select {
	case s.events <- ev:
	case <-s.gone:
	}
	if ev.IsTerminal() {
		c.finish(s)
	}
}

// finish closes the channels of a stream that left the routing table.
func (c *Client) finish(s *stream) {
	close(s.events)
	close(s.finished)
}

func (c *Client) reject(frame ErrorFrame) {
	var err error = core.NewRunError(core.CodeInternal, "request rejected")
	if frame.Error != nil {
		err = frame.Error
	}

	c.mu.Lock()
	s, ok := c.streams[frame.ThreadID]
	if !ok || s.started {
		c.mu.Unlock()
		c.logger.Info("ws.client.error_frame", "thread_id", frame.ThreadID, "run_id", frame.RunID, "error", err.Error())
		return
	}
	delete(c.streams, frame.ThreadID)
	c.mu.Unlock()

	s.ready <- err
	c.finish(s)
}

func (c *Client) fail(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = ErrClosed
	}

	c.mu.Lock()
	c.err = ErrClosed
	streams := c.streams
	c.streams = make(map[string]*stream)
	c.mu.Unlock()

	for _, s := range streams {
		if !s.started {
			s.ready <- err
		}
		c.finish(s)
	}
	close(c.done)
}
