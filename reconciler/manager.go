package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shapeshift/agentic-chat/core"
)

// Manager keeps one Transcript per thread. Transcripts of different threads
// share no state.
type Manager struct {
	mu          sync.Mutex
	transcripts map[string]*Transcript
	onChange    func(threadID string, ev core.Event)
}

// NewManager creates an empty manager. onChange, if not nil, is called after
// an event changed a transcript.
func NewManager(onChange func(threadID string, ev core.Event)) *Manager {
	return &Manager{transcripts: make(map[string]*Transcript), onChange: onChange}
}

// Transcript returns the transcript of threadID, creating it on first use.
func (m *Manager) Transcript(threadID string) *Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[threadID]
	if !ok {
		t = NewTranscript(threadID)
		m.transcripts[threadID] = t
	}
	return t
}

// Apply routes ev to the transcript of its thread.
func (m *Manager) Apply(ev core.Event) error {
	if ev.ThreadID == "" {
		return fmt.Errorf("event %s has no thread id", ev.ID)
	}
	m.apply(ev.ThreadID, ev)
	return nil
}

func (m *Manager) apply(threadID string, ev core.Event) {
	if m.Transcript(threadID).Apply(ev) && m.onChange != nil {
		m.onChange(threadID, ev)
	}
}

// Consume drains events into the transcript of threadID until the channel is
// closed or ctx is done. It returns the terminal event's error, if the run
// failed.
func (m *Manager) Consume(ctx context.Context, threadID string, events <-chan core.Event) error {
	var runErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return runErr
			}
			m.apply(threadID, ev)
			if ev.Type == core.EventRunFailed && ev.Error != nil {
				runErr = ev.Error
			}
		}
	}
}

// Threads returns the ids of all tracked threads.
func (m *Manager) Threads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.transcripts))
	for id := range m.transcripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove forgets the transcript of threadID.
func (m *Manager) Remove(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transcripts, threadID)
}
