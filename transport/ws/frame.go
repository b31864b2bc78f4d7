package ws

import "github.com/shapeshift/agentic-chat/core"

// Frame types sent by clients, plus the error reply sent by the server.
const (
	FrameSubmit = "submit"
	FrameCancel = "cancel"
	FrameError  = "error"
)

// ClientFrame is a request sent from client to server.
type ClientFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// ErrorFrame rejects a client request.
type ErrorFrame struct {
	Type     string         `json:"type"`
	ThreadID string         `json:"thread_id,omitempty"`
	RunID    string         `json:"run_id,omitempty"`
	Error    *core.RunError `json:"error"`
}

func newErrorFrame(threadID, runID string, err error) ErrorFrame {
	return ErrorFrame{Type: FrameError, ThreadID: threadID, RunID: runID, Error: core.ToRunError(err)}
}
