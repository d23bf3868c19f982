package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"lounged/pkg/types"
)

// Storage keys shared by every backend. The prober and the queue each own one.
const (
	StatusKey = "model-load-status"
	QueueKey  = "image-request-queue"
)

// StatusStore persists model id -> ModelLoadStatus.
type StatusStore struct {
	b   Backend
	log zerolog.Logger
}

func NewStatusStore(b Backend, log zerolog.Logger) *StatusStore {
	return &StatusStore{b: b, log: log.With().Str("component", "store").Str("key", StatusKey).Logger()}
}

// Load returns the persisted mapping; absent or corrupt data yields an empty map.
func (s *StatusStore) Load(ctx context.Context) map[string]types.ModelLoadStatus {
	out := map[string]types.ModelLoadStatus{}
	if s == nil || s.b == nil {
		return out
	}
	load(ctx, s.b, StatusKey, &out, s.log)
	if out == nil {
		out = map[string]types.ModelLoadStatus{}
	}
	return out
}

// Save writes the whole mapping. Failures are logged only.
func (s *StatusStore) Save(ctx context.Context, m map[string]types.ModelLoadStatus) {
	if s == nil || s.b == nil {
		return
	}
	save(ctx, s.b, StatusKey, m, s.log)
}

// QueueStore persists the request queue snapshot.
type QueueStore struct {
	b   Backend
	log zerolog.Logger
}

func NewQueueStore(b Backend, log zerolog.Logger) *QueueStore {
	return &QueueStore{b: b, log: log.With().Str("component", "store").Str("key", QueueKey).Logger()}
}

// Load returns the persisted queue; absent or corrupt data yields nil.
func (s *QueueStore) Load(ctx context.Context) []types.QueuedRequest {
	if s == nil || s.b == nil {
		return nil
	}
	var out []types.QueuedRequest
	if !load(ctx, s.b, QueueKey, &out, s.log) {
		return nil
	}
	return out
}

// Save writes the whole queue. Failures are logged only.
func (s *QueueStore) Save(ctx context.Context, q []types.QueuedRequest) {
	if s == nil || s.b == nil {
		return
	}
	if q == nil {
		q = []types.QueuedRequest{}
	}
	save(ctx, s.b, QueueKey, q, s.log)
}

func load(ctx context.Context, b Backend, key string, out any, log zerolog.Logger) bool {
	data, err := b.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Msg("read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable data")
		return false
	}
	return true
}

func save(ctx context.Context, b Backend, key string, v any, log zerolog.Logger) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("encode failed")
		return
	}
	if err := b.Put(ctx, key, data); err != nil {
		log.Warn().Err(err).Msg("write failed")
	}
}
