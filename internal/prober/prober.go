// Package prober tracks whether remote models are cold, warming or ready and
// drives warm-up calls with a bounded exponential backoff.
package prober

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"lounged/internal/events"
	"lounged/internal/provider"
	"lounged/internal/store"
	"lounged/pkg/types"
)

// Client is the provider surface the prober needs.
type Client interface {
	Probe(ctx context.Context, m types.Model, token string) provider.ProbeResult
	Warm(ctx context.Context, m types.Model, token string) provider.ProbeResult
}

// Models resolves model ids against the registry.
type Models interface {
	Get(id string) (types.Model, bool)
	IDs() []string
}

const (
	defaultRecheckInterval = 5 * time.Minute
	defaultRetryBase       = 5 * time.Minute
	defaultRetryCap        = time.Hour
	defaultMaxRetries      = 5
	// Used when a loading response carries no estimate.
	defaultEstimatedTime = 60.0

	errNoToken      = "No User Access Token provided"
	errUnknownModel = "Model configuration not found"
)

// Config configures a Prober. Zero values take package defaults.
type Config struct {
	Models Models
	Client Client
	Store  *store.StatusStore
	// Token is the credential used by the periodic refresh loop.
	Token           string
	RecheckInterval time.Duration
	RetryBase       time.Duration
	RetryCap        time.Duration
	MaxRetries      int
	Publisher       events.Publisher
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Prober owns the model status mapping and its persistence.
type Prober struct {
	models    Models
	client    Client
	store     *store.StatusStore
	token     string
	recheck   time.Duration
	retryBase time.Duration
	retryCap  time.Duration
	maxRetry  int
	pub       events.Publisher
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	statuses map[string]types.ModelLoadStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a prober and restores the persisted mapping.
func New(cfg Config) *Prober {
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = defaultRecheckInterval
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = defaultRetryCap
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Prober{
		models:    cfg.Models,
		client:    cfg.Client,
		store:     cfg.Store,
		token:     cfg.Token,
		recheck:   cfg.RecheckInterval,
		retryBase: cfg.RetryBase,
		retryCap:  cfg.RetryCap,
		maxRetry:  cfg.MaxRetries,
		pub:       events.OrNoop(cfg.Publisher),
		log:       cfg.Logger.With().Str("component", "prober").Logger(),
		now:       cfg.Now,
	}
	p.statuses = p.store.Load(context.Background())
	return p
}

// Status returns the cached status for id.
func (p *Prober) Status(id string) (types.ModelLoadStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.statuses[id]
	return st, ok
}

// Statuses returns a copy of the cached mapping.
func (p *Prober) Statuses() map[string]types.ModelLoadStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]types.ModelLoadStatus, len(p.statuses))
	for k, v := range p.statuses {
		out[k] = v
	}
	return out
}

// CheckStatus probes the provider for modelID. It never fails: problems are
// reported through the Error field. A missing token or unknown model returns
// immediately without a network call and without touching the cache.
func (p *Prober) CheckStatus(ctx context.Context, modelID, token string) types.ModelLoadStatus {
	now := p.now()
	if token == "" {
		return types.ModelLoadStatus{LastCheck: now, Error: errNoToken}
	}
	m, ok := p.models.Get(modelID)
	if !ok {
		return types.ModelLoadStatus{LastCheck: now, Error: errUnknownModel}
	}
	res := p.client.Probe(ctx, m, token)
	if ctx.Err() != nil {
		return p.abandoned(ctx, modelID, now)
	}
	probesTotal.WithLabelValues(modelID, string(res.State)).Inc()

	p.mu.Lock()
	st := p.observeLocked(modelID, res, p.now())
	if res.State == provider.StateReady {
		resetBackoff(&st)
	}
	p.statuses[modelID] = st
	p.persistLocked(ctx)
	p.mu.Unlock()

	p.publish("model_status", modelID, st)
	return st
}

// Warmup sends a minimal inference to make the provider load modelID and
// records the outcome. A manual warm-up clears a permanently failed state.
func (p *Prober) Warmup(ctx context.Context, modelID, token string) types.ModelLoadStatus {
	p.mu.Lock()
	if st, ok := p.statuses[modelID]; ok && st.PermanentlyFailed {
		resetBackoff(&st)
		p.statuses[modelID] = st
	}
	p.mu.Unlock()
	return p.warm(ctx, modelID, token)
}

func (p *Prober) warm(ctx context.Context, modelID, token string) types.ModelLoadStatus {
	now := p.now()
	if token == "" {
		return types.ModelLoadStatus{LastCheck: now, Error: errNoToken}
	}
	m, ok := p.models.Get(modelID)
	if !ok {
		return types.ModelLoadStatus{LastCheck: now, Error: errUnknownModel}
	}
	res := p.client.Warm(ctx, m, token)
	if ctx.Err() != nil {
		return p.abandoned(ctx, modelID, now)
	}
	warmupsTotal.WithLabelValues(modelID, string(res.State)).Inc()

	p.mu.Lock()
	now = p.now()
	st := p.observeLocked(modelID, res, now)
	if res.State == provider.StateError {
		p.failLocked(&st, now)
	} else {
		resetBackoff(&st)
	}
	p.statuses[modelID] = st
	p.persistLocked(ctx)
	p.mu.Unlock()

	if st.PermanentlyFailed {
		p.log.Warn().Str("model", modelID).Int("attempts", st.Attempts).Str("error", st.Error).Msg("warm-up retries exhausted")
		p.publish("model_failed", modelID, st)
	} else {
		p.publish("model_warmup", modelID, st)
	}
	return st
}

// abandoned answers a call whose caller went away. The provider said nothing
// about the model, so the cached status and its backoff stay as they were.
func (p *Prober) abandoned(ctx context.Context, modelID string, now time.Time) types.ModelLoadStatus {
	if st, ok := p.Status(modelID); ok {
		return st
	}
	return types.ModelLoadStatus{LastCheck: now, Error: ctx.Err().Error()}
}

// observeLocked folds a probe result into the previous status for id.
// loadStartTime survives repeated loading observations and is dropped once
// the model is loaded or errors.
func (p *Prober) observeLocked(id string, res provider.ProbeResult, now time.Time) types.ModelLoadStatus {
	prev, had := p.statuses[id]
	st := types.ModelLoadStatus{
		LastCheck:         now,
		Attempts:          prev.Attempts,
		NextRetry:         prev.NextRetry,
		PermanentlyFailed: prev.PermanentlyFailed,
	}
	switch res.State {
	case provider.StateReady:
		st.Loaded = true
		modelLoaded.WithLabelValues(id).Set(1)
	case provider.StateLoading:
		st.Loading = true
		st.EstimatedTime = res.EstimatedTime
		if st.EstimatedTime <= 0 {
			st.EstimatedTime = defaultEstimatedTime
		}
		if had && prev.Loading && prev.LoadStartTime != nil {
			st.LoadStartTime = prev.LoadStartTime
		} else {
			start := now
			st.LoadStartTime = &start
		}
		modelLoaded.WithLabelValues(id).Set(0)
	default:
		st.Error = "Failed to check model status"
		if res.Err != nil {
			st.Error = res.Err.Error()
		}
		modelLoaded.WithLabelValues(id).Set(0)
	}
	return st
}

// failLocked advances the model's backoff after a failed warm-up. The delay
// is derived from the persisted attempt count so the retry ceiling holds
// across restarts.
func (p *Prober) failLocked(st *types.ModelLoadStatus, now time.Time) {
	st.Attempts++
	b := p.newBackoff()
	var (
		d    time.Duration
		stop bool
	)
	for i := 0; i < st.Attempts && !stop; i++ {
		d, stop = b.Next()
	}
	if stop {
		st.PermanentlyFailed = true
		st.NextRetry = nil
		return
	}
	next := now.Add(d)
	st.NextRetry = &next
}

func resetBackoff(st *types.ModelLoadStatus) {
	st.Attempts = 0
	st.NextRetry = nil
	st.PermanentlyFailed = false
}

func (p *Prober) newBackoff() retry.Backoff {
	b := retry.NewExponential(p.retryBase)
	b = retry.WithCappedDuration(p.retryCap, b)
	return retry.WithMaxRetries(uint64(p.maxRetry-1), b)
}

func (p *Prober) persistLocked(ctx context.Context) {
	snap := make(map[string]types.ModelLoadStatus, len(p.statuses))
	for k, v := range p.statuses {
		snap[k] = v
	}
	p.store.Save(ctx, snap)
}

func (p *Prober) publish(name, modelID string, st types.ModelLoadStatus) {
	fields := map[string]any{"loaded": st.Loaded, "loading": st.Loading}
	if st.Error != "" {
		fields["error"] = st.Error
	}
	if st.Attempts > 0 {
		fields["attempts"] = st.Attempts
	}
	p.pub.Publish(events.Event{Name: name, ModelID: modelID, Fields: fields, Time: p.now()})
}

// LoadingProgress extrapolates warm-up progress from the provider's estimate:
// 100 once loaded, otherwise elapsed/estimate clamped to [0, 99].
func LoadingProgress(st types.ModelLoadStatus, now time.Time) int {
	if st.Loaded {
		return 100
	}
	if st.LoadStartTime == nil || st.EstimatedTime <= 0 {
		return 0
	}
	elapsed := now.Sub(*st.LoadStartTime).Milliseconds()
	pct := float64(elapsed) / (st.EstimatedTime * 1000) * 100
	if pct < 0 {
		return 0
	}
	if pct > 99 {
		return 99
	}
	return int(pct)
}
