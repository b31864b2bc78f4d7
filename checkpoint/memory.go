package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/shapeshift/agentic-chat/core"
)

// InMemoryStore is a volatile CheckpointStore keeping logs in a process
// local map. It is safe for concurrent access. Logs are deep copied on the
// way in and out.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]core.Message
}

// Verify interface compliance.
var _ core.CheckpointStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string][]core.Message)}
}

// Get returns a copy of the thread log, empty for unknown threads.
func (s *InMemoryStore) Get(ctx context.Context, threadID string) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.CloneLog(s.threads[threadID]), nil
}

// Put replaces the thread log.
func (s *InMemoryStore) Put(ctx context.Context, threadID string, log []core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(threadID, log); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = core.CloneLog(log)
	return nil
}

// Threads returns the ids of all stored threads.
func (s *InMemoryStore) Threads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	return ids
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func validate(threadID string, log []core.Message) error {
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	return core.ValidateLog(log)
}
