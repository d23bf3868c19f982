package imagecache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBackend stores entries in a hash and indexes them by creation time in
// a sorted set scored with unix milliseconds.
type RedisBackend struct {
	client   *redis.Client
	entryKey string
	indexKey string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "lounged:imagecache:"
	}
	return &RedisBackend{client: client, entryKey: prefix + "entries", indexKey: prefix + "by-time"}
}

type redisEntry struct {
	Prompt    string          `json:"prompt"`
	ModelID   string          `json:"model_id"`
	Params    json.RawMessage `json:"params"`
	URL       string          `json:"url"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r *RedisBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.HGet(ctx, r.entryKey, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var re redisEntry
	if err := json.Unmarshal(data, &re); err != nil {
		return Entry{}, false, err
	}
	return Entry{Key: key, Prompt: re.Prompt, ModelID: re.ModelID, Params: re.Params, URL: re.URL, CreatedAt: re.CreatedAt}, true, nil
}

func (r *RedisBackend) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(redisEntry{Prompt: e.Prompt, ModelID: e.ModelID, Params: e.Params, URL: e.URL, CreatedAt: e.CreatedAt})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.entryKey, e.Key, data)
		pipe.ZAdd(ctx, r.indexKey, &redis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: e.Key})
		return nil
	})
	return err
}

func (r *RedisBackend) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := r.client.ZRangeByScore(ctx, r.indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.entryKey, keys...)
		pipe.ZRem(ctx, r.indexKey, members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
