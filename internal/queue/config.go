package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lounged/internal/events"
	"lounged/internal/store"
	"lounged/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxPending      = 10
	defaultTickInterval    = time.Second
	defaultCleanupInterval = time.Minute
	defaultEvictAfter      = 10 * time.Minute
	// concurrency is the number of generation calls allowed in flight.
	concurrency = 1

	cancelledMessage = "Cancelled by user"
)

// Result is what a successful generation call produced.
type Result struct {
	URL          string
	ThumbnailURL string
}

// Generator performs the external generation call for one job. ctx is
// cancelled when the job is cancelled or the queue stops; progress reports
// advisory percentages.
type Generator interface {
	Generate(ctx context.Context, req types.QueuedRequest, progress func(int)) (Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req types.QueuedRequest, progress func(int)) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req types.QueuedRequest, progress func(int)) (Result, error) {
	return f(ctx, req, progress)
}

// Models resolves and validates enqueue input against the model registry.
type Models interface {
	Get(id string) (types.Model, bool)
	Validate(id string, raw map[string]any) (types.Params, error)
}

// Config encapsulates all tunables for Queue construction.
type Config struct {
	Models    Models
	Generator Generator
	Store     *store.QueueStore
	Publisher events.Publisher
	Logger    zerolog.Logger

	MaxPending      int
	TickInterval    time.Duration
	CleanupInterval time.Duration
	EvictAfter      time.Duration
	// MinDispatchInterval is the minimum gap between two job starts; 0 disables.
	MinDispatchInterval time.Duration

	Now   func() time.Time
	NewID func() string
}
