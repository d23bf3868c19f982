// Package generate implements the queue's generation call: cache lookup,
// model readiness, provider inference with retries, image validation and
// thumbnailing, blob storage.
package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"lounged/internal/blobstore"
	"lounged/internal/imagecache"
	"lounged/internal/provider"
	"lounged/internal/queue"
	"lounged/pkg/types"
)

// Inferer runs one provider generation call.
type Inferer interface {
	Infer(ctx context.Context, m types.Model, token string, in provider.InferenceRequest) (provider.Image, error)
}

// Readiness is the prober surface used before inference.
type Readiness interface {
	Status(id string) (types.ModelLoadStatus, bool)
	CheckStatus(ctx context.Context, modelID, token string) types.ModelLoadStatus
	Warmup(ctx context.Context, modelID, token string) types.ModelLoadStatus
}

// Models resolves model ids.
type Models interface {
	Get(id string) (types.Model, bool)
}

const (
	defaultMaxAttempts   = 3
	defaultRetryBase     = time.Second
	defaultThumbnailSize = 256
	defaultStaleAfter    = 5 * time.Minute
)

// Config configures a Generator. Cache and Readiness are optional.
type Config struct {
	Models    Models
	Client    Inferer
	Readiness Readiness
	Cache     *imagecache.Cache
	Blobs     blobstore.Store
	Token     string

	MaxAttempts   int
	RetryBase     time.Duration
	ThumbnailSize int
	// StaleAfter is how old a cached readiness status may be before it is re-probed.
	StaleAfter time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Generator satisfies queue.Generator.
type Generator struct {
	models    Models
	client    Inferer
	ready     Readiness
	cache     *imagecache.Cache
	blobs     blobstore.Store
	token     string
	attempts  int
	retryBase time.Duration
	thumb     int
	stale     time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

var _ queue.Generator = (*Generator)(nil)

func New(cfg Config) (*Generator, error) {
	if cfg.Models == nil || cfg.Client == nil || cfg.Blobs == nil {
		return nil, errors.New("generate: Models, Client and Blobs are required")
	}
	g := &Generator{
		models:    cfg.Models,
		client:    cfg.Client,
		ready:     cfg.Readiness,
		cache:     cfg.Cache,
		blobs:     cfg.Blobs,
		token:     cfg.Token,
		attempts:  cfg.MaxAttempts,
		retryBase: cfg.RetryBase,
		thumb:     cfg.ThumbnailSize,
		stale:     cfg.StaleAfter,
		log:       cfg.Logger.With().Str("component", "generate").Logger(),
		now:       cfg.Now,
	}
	if g.attempts <= 0 {
		g.attempts = defaultMaxAttempts
	}
	if g.retryBase <= 0 {
		g.retryBase = defaultRetryBase
	}
	if g.thumb <= 0 {
		g.thumb = defaultThumbnailSize
	}
	if g.stale <= 0 {
		g.stale = defaultStaleAfter
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Generate produces the image for req. Progress milestones are advisory;
// the queue sets 100 on completion.
func (g *Generator) Generate(ctx context.Context, req types.QueuedRequest, progress func(int)) (queue.Result, error) {
	m, ok := g.models.Get(req.ModelID)
	if !ok {
		return queue.Result{}, fmt.Errorf("Invalid model selected: %s", req.ModelID)
	}
	log := g.log.With().Str("id", req.ID).Str("model", req.ModelID).Logger()

	if url, ok := g.cached(ctx, req, log); ok {
		progress(100)
		return queue.Result{URL: url}, nil
	}
	progress(10)

	if m.RequiresAuth && g.token == "" {
		return queue.Result{}, errors.New("No User Access Token provided")
	}
	wait := g.prepare(ctx, m, log)
	progress(20)

	img, err := g.infer(ctx, m, req, wait, log)
	if err != nil {
		return queue.Result{}, err
	}
	progress(70)

	res, err := g.store(ctx, req, img)
	if err != nil {
		return queue.Result{}, err
	}
	progress(90)

	if g.cache != nil {
		if err := g.cache.Put(ctx, req.Prompt, req.ModelID, req.Parameters, res.URL); err != nil {
			log.Warn().Err(err).Msg("cache write skipped")
		}
	}
	return res, nil
}

func (g *Generator) cached(ctx context.Context, req types.QueuedRequest, log zerolog.Logger) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	url, ok, err := g.cache.Get(ctx, req.Prompt, req.ModelID, req.Parameters)
	if err != nil {
		log.Warn().Err(err).Msg("cache lookup skipped")
		return "", false
	}
	if ok {
		log.Debug().Str("url", url).Msg("cache hit")
	}
	return url, ok
}

// prepare consults readiness and kicks off a warm-up for a cold model.
// It reports whether the provider should be asked to wait for the model.
func (g *Generator) prepare(ctx context.Context, m types.Model, log zerolog.Logger) bool {
	if g.ready == nil || g.token == "" {
		return false
	}
	st, ok := g.ready.Status(m.ID)
	if !ok || g.now().Sub(st.LastCheck) > g.stale {
		st = g.ready.CheckStatus(ctx, m.ID, g.token)
	}
	if st.Loaded {
		return false
	}
	if !st.Loading && !st.PermanentlyFailed {
		log.Info().Str("error", st.Error).Msg("model cold; warming up")
		st = g.ready.Warmup(ctx, m.ID, g.token)
	}
	return st.Loading
}

func (g *Generator) infer(ctx context.Context, m types.Model, req types.QueuedRequest, wait bool, log zerolog.Logger) (provider.Image, error) {
	var img provider.Image
	attempt := 0
	b := retry.WithMaxRetries(uint64(g.attempts-1), retry.NewExponential(g.retryBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		var err error
		img, err = g.client.Infer(ctx, m, g.token, provider.InferenceRequest{
			Prompt:       req.Prompt,
			Parameters:   req.Parameters,
			WaitForModel: wait,
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		if provider.IsLoading(err) {
			wait = true
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("inference failed; retrying")
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return provider.Image{}, ctx.Err()
		}
		if provider.IsAuth(err) {
			return provider.Image{}, err
		}
		return provider.Image{}, fmt.Errorf("Failed to generate image: %w", err)
	}
	return img, nil
}

// retryable reports whether another attempt could succeed: loading models,
// rate limits, server errors and transport failures. Auth and other 4xx
// responses are final.
func retryable(err error) bool {
	if provider.IsAuth(err) {
		return false
	}
	var he *provider.HTTPError
	if errors.As(err, &he) {
		return he.Code == http.StatusTooManyRequests || he.Code >= 500
	}
	return true
}

// store validates the provider output as an image, writes the original and
// a thumbnail and returns their URLs.
func (g *Generator) store(ctx context.Context, req types.QueuedRequest, img provider.Image) (queue.Result, error) {
	decoded, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return queue.Result{}, fmt.Errorf("provider returned an invalid image: %w", err)
	}
	data, ext, ct, err := original(img, decoded)
	if err != nil {
		return queue.Result{}, err
	}
	url, err := g.blobs.Save(ctx, req.ID+ext, ct, bytes.NewReader(data))
	if err != nil {
		return queue.Result{}, fmt.Errorf("store image: %w", err)
	}
	res := queue.Result{URL: url}

	thumb := imaging.Fit(decoded, g.thumb, g.thumb, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		g.log.Warn().Err(err).Str("id", req.ID).Msg("thumbnail encode failed")
		return res, nil
	}
	if turl, err := g.blobs.Save(ctx, req.ID+"_thumb.jpg", "image/jpeg", &buf); err == nil {
		res.ThumbnailURL = turl
	} else {
		g.log.Warn().Err(err).Str("id", req.ID).Msg("thumbnail store failed")
	}
	return res, nil
}

// original keeps PNG and JPEG bytes as delivered and re-encodes anything
// else as PNG.
func original(img provider.Image, decoded image.Image) ([]byte, string, string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(img.ContentType, ";", 2)[0]))
	switch ct {
	case "image/png":
		return img.Data, ".png", ct, nil
	case "image/jpeg", "image/jpg":
		return img.Data, ".jpg", "image/jpeg", nil
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, decoded, imaging.PNG); err != nil {
		return nil, "", "", fmt.Errorf("re-encode image: %w", err)
	}
	return buf.Bytes(), ".png", "image/png", nil
}
