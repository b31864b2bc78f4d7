package reconciler

import (
	"sync"

	"github.com/shapeshift/agentic-chat/core"
)

// Status is the reconciliation status of a message id.
type Status int

const (
	// StatusUnknown means the id was never seen.
	StatusUnknown Status = iota
	// StatusOpen means chunks are still arriving for the id.
	StatusOpen
	// StatusClosed means the id was finalised (or discarded); further
	// chunks and finals for it are ignored.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Entry pairs a visible message with the tool call it answers, if any.
// Uncommitted marks messages of a failed run that never reached a checkpoint;
// the thread resumes without them.
type Entry struct {
	Message     core.Message
	ToolCall    *core.ToolCall
	Uncommitted bool
}

// Transcript is the reconciled view of one thread. It is safe for concurrent
// use; Apply calls are serialised.
type Transcript struct {
	mu       sync.RWMutex
	threadID string

	messages []core.Message
	status   map[string]Status
	open     string

	toolCalls []core.ToolCall
	callIndex map[string]int

	failedRuns map[string]struct{}
	lastSeq    map[string]int64

	// pending holds, per run, the ids appended since the run's last commit
	// point. uncommitted collects them once the run fails.
	pending     map[string][]string
	uncommitted map[string]struct{}
}

// NewTranscript creates an empty transcript for threadID.
func NewTranscript(threadID string) *Transcript {
	return &Transcript{
		threadID:   threadID,
		status:     make(map[string]Status),
		callIndex:  make(map[string]int),
		failedRuns:  make(map[string]struct{}),
		lastSeq:     make(map[string]int64),
		pending:     make(map[string][]string),
		uncommitted: make(map[string]struct{}),
	}
}

// ThreadID returns the thread the transcript belongs to.
func (t *Transcript) ThreadID() string { return t.threadID }

// Apply folds one event into the transcript. It reports whether the visible
// state changed. Events redelivered with an already seen sequence number of
// the same run are ignored.
func (t *Transcript) Apply(ev core.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.RunID != "" && ev.Seq > 0 {
		if ev.Seq <= t.lastSeq[ev.RunID] {
			return false
		}
		t.lastSeq[ev.RunID] = ev.Seq
	}

	switch ev.Type {
	case core.EventModelInvocationStarted:
		// A later invocation only starts once everything before it was
		// committed.
		delete(t.pending, ev.RunID)
	case core.EventRunEnded:
		changed := t.apply(ev)
		delete(t.pending, ev.RunID)
		return changed
	case core.EventRunFailed:
		return t.apply(ev)
	}

	before := len(t.messages)
	changed := t.apply(ev)
	for i := before; i < len(t.messages); i++ {
		t.pending[ev.RunID] = append(t.pending[ev.RunID], t.messages[i].ID)
	}
	return changed
}

func (t *Transcript) apply(ev core.Event) bool {
	switch ev.Type {
	case core.EventModelInvocationStarted:
		changed := false
		for _, m := range ev.Messages {
			changed = t.mergeClosed(m) || changed
		}
		return changed

	case core.EventModelChunk:
		return t.applyChunk(ev.MessageID, ev.Delta)

	case core.EventModelInvocationEnded:
		if ev.Message == nil {
			return false
		}
		calls := ev.ToolCalls
		if len(calls) == 0 {
			calls = ev.Message.ToolCalls
		}
		changed := t.mergeToolCalls(calls...)
		return t.applyFinal(*ev.Message) || changed

	case core.EventToolExecutionStarted:
		if ev.ToolCall == nil {
			return false
		}
		return t.mergeToolCalls(*ev.ToolCall)

	case core.EventToolExecutionEnded:
		changed := false
		if ev.ToolCall != nil {
			changed = t.mergeToolCalls(*ev.ToolCall)
			if ev.Result != nil {
				changed = t.setResult(ev.ToolCall.ID, *ev.Result) || changed
			}
		}
		if ev.Message != nil {
			changed = t.mergeClosed(*ev.Message) || changed
		}
		return changed

	case core.EventRunEnded:
		return t.closeOpen(true)

	case core.EventRunFailed:
		return t.applyFailure(ev)
	}

	return false
}

// visible reports whether a message is ever surfaced to users.
func visible(m core.Message) bool {
	return m.Role != core.RoleSystem && m.Content != ""
}

func (t *Transcript) indexOf(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// mergeClosed appends a finished message unless its id is already known.
// An open message with the same id is replaced.
func (t *Transcript) mergeClosed(m core.Message) bool {
	if m.ID == "" {
		return false
	}
	switch t.status[m.ID] {
	case StatusClosed:
		return false
	case StatusOpen:
		return t.replaceOpen(m)
	}

	t.status[m.ID] = StatusClosed
	if !visible(m) {
		return false
	}
	t.messages = append(t.messages, m.Clone())
	return true
}

func (t *Transcript) applyChunk(id, delta string) bool {
	if id == "" || delta == "" {
		return false
	}

	switch t.status[id] {
	case StatusClosed:
		return false
	case StatusOpen:
		i := t.indexOf(id)
		t.messages[i].Content += delta
		return true
	}

	// A new preview starts; a previous one left open is kept as is.
	t.closeOpen(true)
	t.status[id] = StatusOpen
	t.open = id
	t.messages = append(t.messages, core.Message{ID: id, Role: core.RoleAssistant, Content: delta})
	return true
}

func (t *Transcript) applyFinal(final core.Message) bool {
	if final.ID == "" {
		return false
	}
	switch t.status[final.ID] {
	case StatusClosed:
		return false
	case StatusOpen:
		return t.replaceOpen(final)
	}

	t.status[final.ID] = StatusClosed
	if !visible(final) {
		return false
	}
	t.messages = append(t.messages, final.Clone())
	return true
}

// replaceOpen swaps the open message for m at the same position, or drops it
// when m has nothing to show.
func (t *Transcript) replaceOpen(m core.Message) bool {
	i := t.indexOf(m.ID)
	t.status[m.ID] = StatusClosed
	if t.open == m.ID {
		t.open = ""
	}
	if i < 0 {
		return false
	}
	if !visible(m) {
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
		return true
	}
	t.messages[i] = m.Clone()
	return true
}

// closeOpen resolves the open message: kept as is or discarded.
func (t *Transcript) closeOpen(keep bool) bool {
	if t.open == "" {
		return false
	}
	id := t.open
	t.open = ""
	t.status[id] = StatusClosed
	if keep {
		return false
	}
	if i := t.indexOf(id); i >= 0 {
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
		return true
	}
	return false
}

func (t *Transcript) applyFailure(ev core.Event) bool {
	key := ev.RunID
	if key == "" {
		key = ev.ID
	}
	if _, done := t.failedRuns[key]; done {
		return false
	}
	t.failedRuns[key] = struct{}{}

	t.closeOpen(false)
	for _, id := range t.pending[ev.RunID] {
		if t.indexOf(id) >= 0 {
			t.uncommitted[id] = struct{}{}
		}
	}
	delete(t.pending, ev.RunID)

	text := "Something went wrong. Please try again."
	if ev.Error != nil && ev.Error.Message != "" {
		text = ev.Error.Message
	}
	id := "error-" + key
	t.status[id] = StatusClosed
	t.messages = append(t.messages, core.Message{
		ID:      id,
		Role:    core.RoleAssistant,
		Content: text,
		Error:   true,
	})
	return true
}

func (t *Transcript) mergeToolCalls(calls ...core.ToolCall) bool {
	changed := false
	for _, tc := range calls {
		if tc.ID == "" {
			continue
		}
		if _, ok := t.callIndex[tc.ID]; ok {
			continue
		}
		t.callIndex[tc.ID] = len(t.toolCalls)
		t.toolCalls = append(t.toolCalls, tc.Clone())
		changed = true
	}
	return changed
}

func (t *Transcript) setResult(callID string, res core.ToolResult) bool {
	i, ok := t.callIndex[callID]
	if !ok || t.toolCalls[i].Result != nil {
		return false
	}
	r := res
	if res.Artifact != nil {
		r.Artifact = append([]byte(nil), res.Artifact...)
	}
	t.toolCalls[i].Result = &r
	return true
}

// Messages returns the visible messages in arrival order, including the open
// preview if any.
func (t *Transcript) Messages() []core.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return core.CloneLog(t.messages)
}

// ToolCalls returns the deduplicated tool calls in arrival order.
func (t *Transcript) ToolCalls() []core.ToolCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.ToolCall, len(t.toolCalls))
	for i, tc := range t.toolCalls {
		out[i] = tc.Clone()
	}
	return out
}

// Entries returns the visible messages, tool messages paired with the tool
// call they answer. An unmatched tool message has a nil ToolCall.
// Messages left uncommitted by a failed run stay visible and are marked.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.messages))
	for i, m := range t.messages {
		_, uncommitted := t.uncommitted[m.ID]
		out[i] = Entry{Message: m.Clone(), Uncommitted: uncommitted}
		if m.Role != core.RoleTool {
			continue
		}
		if j, ok := t.callIndex[m.ToolCallID]; ok {
			tc := t.toolCalls[j].Clone()
			out[i].ToolCall = &tc
		}
	}
	return out
}

// Open returns the message currently receiving chunks.
func (t *Transcript) Open() (core.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.open == "" {
		return core.Message{}, false
	}
	i := t.indexOf(t.open)
	if i < 0 {
		return core.Message{}, false
	}
	return t.messages[i].Clone(), true
}

// Status returns the status of a message id.
func (t *Transcript) Status(id string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status[id]
}

// Len returns the number of visible messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
