// Package store persists the model status mapping and the queue snapshot.
// Persistence is best-effort: loads degrade to empty values and saves log
// and swallow errors.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/go-redis/redis/v8"

	"lounged/internal/common/fsutil"
)

// ErrNotFound is returned by a Backend when key holds no value.
var ErrNotFound = errors.New("store: key not found")

// Backend reads and writes whole values by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// FileBackend keeps one JSON file per key under a directory.
type FileBackend struct {
	dir string
}

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// NewFileBackend creates dir when missing.
func NewFileBackend(dir string) (*FileBackend, error) {
	d, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	return &FileBackend{dir: d}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, unsafeKey.ReplaceAllString(key, "_")+".json")
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FileBackend) Put(_ context.Context, key string, value []byte) error {
	return fsutil.WriteFileAtomic(b.path(key), value, 0o644)
}

// RedisBackend stores each key as a plain string value.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps client; prefix namespaces the keys.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, b.prefix+key, value, 0).Err()
}

// MemoryBackend keeps values in a map; for tests and ephemeral runs.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: map[string][]byte{}}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = append([]byte(nil), value...)
	return nil
}
