// Package app assembles the queue, prober, cache and storage backends from a
// config.Config and exposes them as the service behind the HTTP API.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"lounged/internal/blobstore"
	"lounged/internal/common/fsutil"
	"lounged/internal/config"
	"lounged/internal/events"
	"lounged/internal/generate"
	"lounged/internal/imagecache"
	"lounged/internal/prober"
	"lounged/internal/provider"
	"lounged/internal/queue"
	"lounged/internal/registry"
	"lounged/internal/store"
	"lounged/pkg/types"
)

const redisPingTimeout = 5 * time.Second

// Options carries collaborators that tests replace.
type Options struct {
	Logger zerolog.Logger
	// HTTPClient is used for provider calls when set.
	HTTPClient *http.Client
	Now        func() time.Time
}

// App owns every long-running component.
type App struct {
	cfg      config.Config
	log      zerolog.Logger
	now      func() time.Time
	registry *registry.Registry
	client   *provider.Client
	prober   *prober.Prober
	cache    *imagecache.Cache
	blobs    blobstore.Store
	queue    *queue.Queue
	started  time.Time
	ready    atomic.Bool

	mu      sync.Mutex
	redis   map[string]*redis.Client
	closers []func()
}

// New builds every component. Backends that need a network connection are
// dialled here so misconfiguration fails at startup.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &App{
		cfg:   cfg,
		log:   opts.Logger.With().Str("component", "app").Logger(),
		now:   opts.Now,
		redis: map[string]*redis.Client{},
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	dataDir, err := fsutil.ResolveDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if a.registry, err = registry.Load(cfg.RegistryPath); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	backend, err := a.stateBackend(ctx, dataDir)
	if err != nil {
		return nil, err
	}
	pub := a.publisher()

	a.client = provider.New(provider.Config{
		StatusURL:    cfg.Provider.StatusURL,
		InferenceURL: cfg.Provider.InferenceURL,
		Timeout:      cfg.Provider.Timeout.Std(),
		HTTPClient:   opts.HTTPClient,
		Logger:       opts.Logger,
	})
	a.prober = prober.New(prober.Config{
		Models:          a.registry,
		Client:          a.client,
		Store:           store.NewStatusStore(backend, opts.Logger),
		Token:           cfg.Provider.Token,
		RecheckInterval: cfg.Prober.RecheckInterval.Std(),
		RetryBase:       cfg.Prober.RetryBase.Std(),
		RetryCap:        cfg.Prober.RetryCap.Std(),
		MaxRetries:      cfg.Prober.MaxRetries,
		Publisher:       pub,
		Logger:          opts.Logger,
		Now:             opts.Now,
	})

	cacheBackend, err := a.cacheBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.cache = imagecache.New(imagecache.Config{
		Backend:         cacheBackend,
		TTL:             cfg.Cache.TTL.Std(),
		CleanupInterval: cfg.Cache.CleanupInterval.Std(),
		Logger:          opts.Logger,
		Now:             opts.Now,
	})

	if a.blobs, err = a.blobStore(ctx, dataDir); err != nil {
		return nil, err
	}

	gen, err := generate.New(generate.Config{
		Models:    a.registry,
		Client:    a.client,
		Readiness: a.prober,
		Cache:     a.cache,
		Blobs:     a.blobs,
		Token:     cfg.Provider.Token,
		Logger:    opts.Logger,
		Now:       opts.Now,
	})
	if err != nil {
		return nil, err
	}
	a.queue, err = queue.New(queue.Config{
		Models:              a.registry,
		Generator:           gen,
		Store:               store.NewQueueStore(backend, opts.Logger),
		Publisher:           pub,
		Logger:              opts.Logger,
		MaxPending:          cfg.Queue.MaxPending,
		TickInterval:        cfg.Queue.TickInterval.Std(),
		CleanupInterval:     cfg.Queue.CleanupInterval.Std(),
		EvictAfter:          cfg.Queue.EvictAfter.Std(),
		MinDispatchInterval: cfg.Queue.MinDispatchInterval.Std(),
		Now:                 opts.Now,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) redisClient(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis backend selected but no address configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.redis[addr]; ok {
		return c, nil
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := c.Ping(pctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	a.redis[addr] = c
	a.closers = append(a.closers, func() { _ = c.Close() })
	return c, nil
}

func (a *App) stateBackend(ctx context.Context, dataDir string) (store.Backend, error) {
	switch a.cfg.Store.Backend {
	case "", "file":
		return store.NewFileBackend(filepath.Join(dataDir, "state"))
	case "redis":
		c, err := a.redisClient(ctx, a.cfg.Store.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		return store.NewRedisBackend(c, "lounged:state:"), nil
	case "memory":
		return store.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

func (a *App) cacheBackend(ctx context.Context) (imagecache.Backend, error) {
	switch a.cfg.Cache.Backend {
	case "", "memory":
		return imagecache.NewMemoryBackend(), nil
	case "redis":
		c, err := a.redisClient(ctx, a.cfg.Cache.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("image cache: %w", err)
		}
		return imagecache.NewRedisBackend(c, ""), nil
	case "postgres":
		pg, err := imagecache.NewPostgresBackend(ctx, a.cfg.Cache.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("image cache: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
}

func (a *App) blobStore(ctx context.Context, dataDir string) (blobstore.Store, error) {
	switch a.cfg.Blob.Backend {
	case "", "local":
		return blobstore.NewLocalStore(filepath.Join(dataDir, "images"), "/images/")
	case "minio":
		m := a.cfg.Blob.Minio
		s, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:      m.Endpoint,
			AccessKey:     m.AccessKey,
			SecretKey:     m.SecretKey,
			Bucket:        m.Bucket,
			UseSSL:        m.UseSSL,
			PublicBaseURL: m.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", a.cfg.Blob.Backend)
	}
}

func (a *App) publisher() events.Publisher {
	if len(a.cfg.Events.KafkaBrokers) == 0 {
		return events.Noop{}
	}
	kp := events.NewKafkaPublisher(a.cfg.Events.KafkaBrokers, a.cfg.Events.KafkaTopic, a.log)
	a.closers = append(a.closers, func() {
		if err := kp.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close kafka writer")
		}
	})
	return events.Multi{kp, logPublisher{log: a.log}}
}

// logPublisher mirrors lifecycle events into the debug log.
type logPublisher struct{ log zerolog.Logger }

func (p logPublisher) Publish(e events.Event) {
	p.log.Debug().Str("event", e.Name).Str("id", e.ID).Str("model", e.ModelID).Fields(e.Fields).Msg("event")
}

// Start launches the background loops. The prober loop only runs when a
// provider token is configured.
func (a *App) Start(ctx context.Context) {
	a.started = a.now()
	if !a.cfg.Prober.Disabled {
		a.prober.Start(ctx)
	}
	a.cache.Start(ctx)
	a.queue.Start(ctx)
	a.ready.Store(true)
	a.log.Info().Int("models", len(a.registry.IDs())).Bool("token", a.cfg.Provider.Token != "").Msg("started")
}

// Stop halts the loops, returns in-flight jobs to pending and releases
// backend connections.
func (a *App) Stop() {
	a.ready.Store(false)
	a.queue.Stop()
	a.prober.Stop()
	a.cache.Stop()
	a.close()
}

func (a *App) close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (a *App) token(override string) string {
	if override != "" {
		return override
	}
	return a.cfg.Provider.Token
}

func (a *App) ListModels() []types.Model { return a.registry.Models() }

func (a *App) CheckStatus(ctx context.Context, modelID, token string) (types.ModelStatusResponse, error) {
	if _, ok := a.registry.Get(modelID); !ok {
		return types.ModelStatusResponse{}, queue.ErrInvalidModel(modelID)
	}
	return a.statusResponse(modelID, a.prober.CheckStatus(ctx, modelID, a.token(token))), nil
}

func (a *App) Warmup(ctx context.Context, modelID, token string) (types.ModelStatusResponse, error) {
	if _, ok := a.registry.Get(modelID); !ok {
		return types.ModelStatusResponse{}, queue.ErrInvalidModel(modelID)
	}
	return a.statusResponse(modelID, a.prober.Warmup(ctx, modelID, a.token(token))), nil
}

func (a *App) statusResponse(id string, st types.ModelLoadStatus) types.ModelStatusResponse {
	return types.ModelStatusResponse{ModelID: id, Status: st, Progress: prober.LoadingProgress(st, a.now())}
}

func (a *App) Enqueue(ctx context.Context, req types.EnqueueRequest) (types.QueuedRequest, error) {
	return a.queue.Enqueue(ctx, req.Model, req.Prompt, req.Parameters)
}

func (a *App) Queue() types.QueueResponse {
	snap := a.queue.Snapshot()
	pending := 0
	for _, r := range snap {
		if r.Status == types.StatusPending {
			pending++
		}
	}
	return types.QueueResponse{Requests: snap, Pending: pending, MaxPending: a.queue.MaxPending()}
}

func (a *App) Get(id string) (types.QueuedRequest, bool) { return a.queue.Get(id) }

func (a *App) Cancel(id string) error { return a.queue.Cancel(id) }

func (a *App) Subscribe(fn func([]types.QueuedRequest)) func() { return a.queue.Subscribe(fn) }

func (a *App) OpenImage(ctx context.Context, name string) (io.ReadCloser, error) {
	return a.blobs.Open(ctx, name)
}

func (a *App) Status() types.StatusResponse {
	now := a.now()
	var uptime int64
	if !a.started.IsZero() {
		uptime = int64(now.Sub(a.started).Seconds())
	}
	return types.StatusResponse{
		Queue:           a.queue.Stats(),
		Models:          a.prober.Statuses(),
		TokenConfigured: a.cfg.Provider.Token != "",
		UptimeSeconds:   uptime,
		ServerTimeUnix:  now.Unix(),
	}
}

func (a *App) Ready() bool { return a.ready.Load() }

// Registry exposes the loaded model registry to the CLI.
func (a *App) Registry() *registry.Registry { return a.registry }
