package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"lounged/pkg/types"
)

func TestStatusStoreRoundTripFile(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s := NewStatusStore(b, zerolog.Nop())
	ctx := context.Background()
	if got := s.Load(ctx); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
	now := time.Unix(1700000000, 0).UTC()
	s.Save(ctx, map[string]types.ModelLoadStatus{
		"sd": {Loaded: true, LastCheck: now},
	})
	got := s.Load(ctx)
	if !got["sd"].Loaded || !got["sd"].LastCheck.Equal(now) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCorruptDataLoadsEmpty(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewFileBackend(dir)
	if err := os.WriteFile(filepath.Join(dir, StatusKey+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, QueueKey+".json"), []byte(`{"id":1}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := NewStatusStore(b, zerolog.Nop()).Load(context.Background()); len(got) != 0 {
		t.Fatalf("expected empty status map, got %v", got)
	}
	if got := NewQueueStore(b, zerolog.Nop()).Load(context.Background()); got != nil {
		t.Fatalf("expected nil queue, got %v", got)
	}
}

func TestQueueStoreRoundTripMemory(t *testing.T) {
	s := NewQueueStore(NewMemoryBackend(), zerolog.Nop())
	ctx := context.Background()
	s.Save(ctx, []types.QueuedRequest{
		{ID: "a", ModelID: "sd", Status: types.StatusPending, Position: 1, Parameters: types.Params{"steps": 20.0}},
		{ID: "b", ModelID: "sd", Status: types.StatusFailed, Error: "boom"},
	})
	got := s.Load(ctx)
	if len(got) != 2 || got[0].ID != "a" || got[1].Error != "boom" {
		t.Fatalf("unexpected queue: %+v", got)
	}
	if got[0].Parameters["steps"] != 20.0 {
		t.Fatalf("params = %#v", got[0].Parameters)
	}
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, os.ErrPermission }
func (failingBackend) Put(context.Context, string, []byte) error   { return os.ErrPermission }

func TestBackendErrorsAreSwallowed(t *testing.T) {
	s := NewStatusStore(failingBackend{}, zerolog.Nop())
	s.Save(context.Background(), map[string]types.ModelLoadStatus{"x": {}})
	if got := s.Load(context.Background()); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
	var nilStore *QueueStore
	nilStore.Save(context.Background(), nil)
	if nilStore.Load(context.Background()) != nil {
		t.Fatalf("nil store should load nothing")
	}
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("LOUNGED_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOUNGED_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	prefix := "lounged-test:" + time.Now().Format("150405.000000") + ":"
	b := NewRedisBackend(client, prefix)
	ctx := context.Background()
	if _, err := b.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	client.Del(ctx, prefix+"k")
}
