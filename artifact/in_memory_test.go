package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shapeshift/agentic-chat/core"
)

func runArtifactSuite(t *testing.T, store core.ArtifactStore) {
	thread := "thread-" + core.NewID()

	data := []byte("hello")
	if err := store.Save(thread, "call-2", data); err != nil {
		t.Fatalf("save: %v", err)
	}
	data[0] = 'H'
	out, err := store.Get(thread, "call-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected 'hello', got %q", string(out))
	}
	out[0] = 'x'
	again, _ := store.Get(thread, "call-2")
	if string(again) != "hello" {
		t.Fatalf("expected stored copy to be unaffected, got %q", string(again))
	}

	if err := store.Save(thread, "call-1", []byte("{}")); err != nil {
		t.Fatalf("save: %v", err)
	}
	ids, err := store.List(thread)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "call-1" || ids[1] != "call-2" {
		t.Fatalf("unexpected ids %v", ids)
	}

	if _, err := store.Get("other-thread", "call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across threads, got %v", err)
	}

	if err := store.Delete(thread, "call-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(thread, "call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestInMemoryArtifactStore(t *testing.T) {
	runArtifactSuite(t, NewInMemoryStore())
}

func TestInMemoryArtifactStore_Concurrency(t *testing.T) {
	svc := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = svc.Save("t", fmt.Sprintf("call-%d", i), []byte{byte(i)})
		}(i)
	}
	wg.Wait()
	ids, _ := svc.List("t")
	if len(ids) != 50 {
		t.Fatalf("expected 50 artifacts, got %d", len(ids))
	}
}

func TestRedisArtifactStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	runArtifactSuite(t, NewRedisStore(client, "agentic-chat-test:artifacts:", time.Minute))
}
