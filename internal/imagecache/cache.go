// Package imagecache remembers generated image URLs per (prompt, model,
// parameters) so repeated requests skip the provider.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"lounged/pkg/types"
)

// Entry is one cached result.
type Entry struct {
	Key       string
	Prompt    string
	ModelID   string
	Params    json.RawMessage
	URL       string
	CreatedAt time.Time
}

// Backend stores entries by key with a time index for expiry sweeps.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	// DeleteBefore removes every entry created before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

const (
	defaultTTL             = 24 * time.Hour
	defaultCleanupInterval = 6 * time.Hour
)

var lookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lounged",
		Subsystem: "imagecache",
		Name:      "lookups_total",
		Help:      "Image cache lookups by result (hit, miss, expired, mismatch, error)",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(lookupsTotal)
}

// Config configures a Cache. Zero values take package defaults.
type Config struct {
	Backend         Backend
	TTL             time.Duration
	CleanupInterval time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Cache is the image result cache. Errors are returned to the caller, who
// should treat them as a skipped optimisation.
type Cache struct {
	b       Backend
	ttl     time.Duration
	cleanup time.Duration
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Cache {
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		b:       cfg.Backend,
		ttl:     cfg.TTL,
		cleanup: cfg.CleanupInterval,
		log:     cfg.Logger.With().Str("component", "imagecache").Logger(),
		now:     cfg.Now,
	}
}

// Key derives the composite key: SHA-256 over the canonical JSON encoding of
// prompt, model id and parameters. encoding/json sorts map keys, so equal
// parameter bags hash equally regardless of insertion order.
func Key(prompt, modelID string, params types.Params) (string, json.RawMessage, error) {
	p, err := canonical(params)
	if err != nil {
		return "", nil, err
	}
	b, err := json.Marshal(struct {
		Prompt  string          `json:"prompt"`
		ModelID string          `json:"modelId"`
		Params  json.RawMessage `json:"params"`
	}{prompt, modelID, p})
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), p, nil
}

// canonical round-trips params through JSON so numbers share one representation.
func canonical(params types.Params) (json.RawMessage, error) {
	if params == nil {
		params = types.Params{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func sameParams(a, b json.RawMessage) bool {
	var va, vb map[string]any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	if len(va) == 0 && len(vb) == 0 {
		return true
	}
	return reflect.DeepEqual(va, vb)
}

// Get returns the cached url for the tuple. A stored entry only counts when
// it is younger than the TTL and its parameters deep-equal the requested ones.
func (c *Cache) Get(ctx context.Context, prompt, modelID string, params types.Params) (string, bool, error) {
	key, p, err := Key(prompt, modelID, params)
	if err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		return "", false, err
	}
	e, ok, err := c.b.Get(ctx, key)
	if err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		lookupsTotal.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		lookupsTotal.WithLabelValues("expired").Inc()
		return "", false, nil
	}
	if e.Prompt != prompt || e.ModelID != modelID || !sameParams(e.Params, p) {
		lookupsTotal.WithLabelValues("mismatch").Inc()
		return "", false, nil
	}
	lookupsTotal.WithLabelValues("hit").Inc()
	return e.URL, true, nil
}

// Put stores url for the tuple, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, prompt, modelID string, params types.Params, url string) error {
	key, p, err := Key(prompt, modelID, params)
	if err != nil {
		return err
	}
	e := Entry{Key: key, Prompt: prompt, ModelID: modelID, Params: p, URL: url, CreatedAt: c.now()}
	if err := c.b.Put(ctx, e); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Cleanup deletes every entry older than the TTL.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	n, err := c.b.DeleteBefore(ctx, c.now().Add(-c.ttl))
	if err != nil {
		return n, fmt.Errorf("cache cleanup: %w", err)
	}
	return n, nil
}

// Start sweeps once and then every cleanup interval until Stop.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sweep(ctx)
		t := time.NewTicker(c.cleanup)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.sweep(ctx)
			}
		}
	}()
}

func (c *Cache) sweep(ctx context.Context) {
	n, err := c.Cleanup(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("cleanup failed")
		return
	}
	if n > 0 {
		c.log.Info().Int("removed", n).Msg("expired cache entries removed")
	}
}

// Stop ends the cleanup loop.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
