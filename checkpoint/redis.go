package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shapeshift/agentic-chat/core"
)

// RedisConfig describes the Redis connection of a RedisStore.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisStore keeps each thread log as one JSON value. A single SET replaces
// the log, which makes Put atomic.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// Verify interface compliance.
var _ core.CheckpointStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s := NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL)
	s.owned = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The client is not closed
// by Close.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "agentic-chat:checkpoint:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(threadID string) string { return s.prefix + threadID }

// Client returns the underlying client, e.g. to share it with an artifact
// store.
func (s *RedisStore) Client() redis.UniversalClient { return s.client }

// Get returns the thread log, empty for unknown threads.
func (s *RedisStore) Get(ctx context.Context, threadID string) ([]core.Message, error) {
	raw, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []core.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}

	var thread core.Thread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return core.CloneLog(thread.Messages), nil
}

// Put replaces the thread log and refreshes its TTL.
func (s *RedisStore) Put(ctx context.Context, threadID string, log []core.Message) error {
	if err := validate(threadID, log); err != nil {
		return err
	}
	stored := core.CloneLog(log)
	for i := range stored {
		for j := range stored[i].ToolCalls {
			stored[i].ToolCalls[j].Result = nil
		}
	}
	raw, err := json.Marshal(core.Thread{ID: threadID, Messages: stored})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(threadID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}
	return nil
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
