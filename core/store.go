package core

import "context"

// CheckpointStore persists the ordered message log of a thread.
//
// Get returns an empty, non-nil log for unknown threads. Put replaces the
// stored log atomically: after it returns either the full log is visible to
// subsequent Gets or, on error, the previously committed log still is.
// Implementations must be safe for concurrent use and must never share slices
// with callers.
type CheckpointStore interface {
	Get(ctx context.Context, threadID string) ([]Message, error)
	Put(ctx context.Context, threadID string, log []Message) error
}

// ArtifactStore defines the interface for tool artifact persistence.
// Implementations should be thread-safe and scope artifacts by thread id.
type ArtifactStore interface {
	Save(threadID, artifactID string, data []byte) error
	Get(threadID, artifactID string) ([]byte, error)
	List(threadID string) ([]string, error)
	Delete(threadID, artifactID string) error
}
