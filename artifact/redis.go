package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shapeshift/agentic-chat/core"
)

// RedisStore keeps the artifacts of a thread in one Redis hash keyed by
// artifact id.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// Verify interface compliance.
var _ core.ArtifactStore = (*RedisStore)(nil)

// NewRedisStore wraps client. A positive ttl expires a thread's artifacts
// after its last write.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "agentic-chat:artifacts:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, timeout: 5 * time.Second}
}

func (r *RedisStore) key(threadID string) string { return r.prefix + threadID }

func (r *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Save stores the artifact bytes.
func (r *RedisStore) Save(threadID, artifactID string, data []byte) error {
	ctx, cancel := r.ctx()
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key(threadID), artifactID, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(threadID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save artifact: %w", err)
	}
	return nil
}

// Get returns the artifact bytes or ErrNotFound.
func (r *RedisStore) Get(threadID, artifactID string) ([]byte, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	data, err := r.client.HGet(ctx, r.key(threadID), artifactID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get artifact: %w", err)
	}
	return data, nil
}

// List returns the sorted artifact ids of the thread.
func (r *RedisStore) List(threadID string) ([]string, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	ids, err := r.client.HKeys(ctx, r.key(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list artifacts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the artifact or returns ErrNotFound.
func (r *RedisStore) Delete(threadID, artifactID string) error {
	ctx, cancel := r.ctx()
	defer cancel()

	n, err := r.client.HDel(ctx, r.key(threadID), artifactID).Result()
	if err != nil {
		return fmt.Errorf("redis delete artifact: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
