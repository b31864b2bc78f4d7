package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/logging"
)

// Submitter starts and cancels runs. *runner.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, threadID, content string) (string, <-chan core.Event, error)
	Cancel(runID string) error
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingInterval is the keepalive period; the peer must answer within two
	// intervals.
	PingInterval time.Duration
	// CheckOrigin overrides the origin check of the upgrader. Nil allows
	// every origin.
	CheckOrigin func(r *http.Request) bool
	Logger      logging.Logger
}

// Handler upgrades HTTP requests to WebSocket connections serving runs.
type Handler struct {
	submitter Submitter
	opts      HandlerOptions
	upgrader  websocket.Upgrader
}

// NewHandler creates a Handler backed by submitter.
func NewHandler(submitter Submitter, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Handler{
		submitter: submitter,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(l logging.Logger) func(o *HandlerOptions) {
	return func(o *HandlerOptions) { o.Logger = l }
}

// serverConn serialises writes; gorilla connections allow one concurrent
// writer only.
type serverConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	timeout time.Duration
}

func (c *serverConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *serverConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.timeout))
}

// ServeHTTP implements http.Handler. Runs started on a connection are bound
// to it: closing the connection cancels them.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.Warn("ws.upgrade.failed", "error", err.Error())
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &serverConn{conn: ws, timeout: h.opts.WriteTimeout}
	h.opts.Logger.Debug("ws.conn.open", "remote", r.RemoteAddr)

	deadline := 2 * h.opts.PingInterval
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.keepalive(ctx, conn)
	}()

	for {
		var frame ClientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.opts.Logger.Debug("ws.read.failed", "error", err.Error())
			}
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))

		switch frame.Type {
		case FrameSubmit:
			runID, events, err := h.submitter.Submit(ctx, frame.ThreadID, frame.Content)
			if err != nil {
				h.opts.Logger.Info("ws.submit.rejected", "thread_id", frame.ThreadID, "error", err.Error())
				h.reply(conn, newErrorFrame(frame.ThreadID, "", err))
				continue
			}
			h.opts.Logger.Debug("ws.submit", "thread_id", frame.ThreadID, "run_id", runID)

			wg.Add(1)
			go func() {
				defer wg.Done()
				h.forward(conn, events)
			}()

		case FrameCancel:
			if err := h.submitter.Cancel(frame.RunID); err != nil {
				h.reply(conn, newErrorFrame("", frame.RunID, core.NewRunError(core.CodeInvalidArgument, err.Error())))
			}

		default:
			h.reply(conn, newErrorFrame(frame.ThreadID, frame.RunID,
				core.NewRunError(core.CodeInvalidArgument, "unknown frame type "+frame.Type)))
		}
	}

	cancel()
	wg.Wait()
	h.opts.Logger.Debug("ws.conn.closed", "remote", r.RemoteAddr)
}

// forward writes every event of a run. The channel is always drained so the
// run never blocks on a dead connection.
func (h *Handler) forward(conn *serverConn, events <-chan core.Event) {
	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		if writeErr = conn.writeJSON(ev); writeErr != nil {
			h.opts.Logger.Debug("ws.write.failed", "run_id", ev.RunID, "error", writeErr.Error())
		}
	}
}

func (h *Handler) reply(conn *serverConn, frame ErrorFrame) {
	if err := conn.writeJSON(frame); err != nil {
		h.opts.Logger.Debug("ws.write.failed", "error", err.Error())
	}
}

func (h *Handler) keepalive(ctx context.Context, conn *serverConn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				h.opts.Logger.Debug("ws.ping.failed", "error", err.Error())
				return
			}
		}
	}
}
