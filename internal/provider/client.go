// Package provider talks to the remote image inference API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lounged/pkg/types"
)

// State classifies a probe or warm-up response.
type State string

const (
	StateReady   State = "ready"
	StateLoading State = "loading"
	StateError   State = "error"
)

// ProbeResult is the outcome of a status probe or warm-up call.
type ProbeResult struct {
	State         State
	EstimatedTime float64
	Err           error
}

// Image is one generated image as returned by the provider.
type Image struct {
	Data        []byte
	ContentType string
}

// InferenceRequest is a single generation call.
type InferenceRequest struct {
	Prompt     string
	Parameters types.Params
	// WaitForModel asks the provider to block until the model is loaded.
	WaitForModel bool
	// UseCache maps to X-Use-Cache; nil leaves the provider default.
	UseCache *bool
}

// Config configures a Client. Zero values take package defaults.
type Config struct {
	StatusURL    string
	InferenceURL string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

const (
	defaultStatusURL    = "https://api-inference.huggingface.co/status"
	defaultInferenceURL = "https://api-inference.huggingface.co/models"
	defaultTimeout      = 2 * time.Minute
	maxErrorSnippet     = 8 << 10
	maxImageBytes       = 64 << 20
)

// Client issues probe, warm-up and inference calls.
type Client struct {
	statusURL    string
	inferenceURL string
	http         *http.Client
	log          zerolog.Logger
}

func New(cfg Config) *Client {
	if cfg.StatusURL == "" {
		cfg.StatusURL = defaultStatusURL
	}
	if cfg.InferenceURL == "" {
		cfg.InferenceURL = defaultInferenceURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		statusURL:    strings.TrimRight(cfg.StatusURL, "/"),
		inferenceURL: strings.TrimRight(cfg.InferenceURL, "/"),
		http:         hc,
		log:          cfg.Logger.With().Str("component", "provider").Logger(),
	}
}

func (c *Client) statusTarget(m types.Model) string {
	if m.Provider == types.ProviderEndpoint {
		return m.Endpoint
	}
	return c.statusURL + "/" + endpointPath(m.Endpoint)
}

func (c *Client) inferenceTarget(m types.Model) string {
	if m.Provider == types.ProviderEndpoint {
		return m.Endpoint
	}
	return c.inferenceURL + "/" + endpointPath(m.Endpoint)
}

// endpointPath escapes each segment of an "org/model" path.
func endpointPath(ep string) string {
	parts := strings.Split(strings.Trim(ep, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Probe asks whether m can serve a request now. HuggingFace models are probed
// with GET on the status endpoint; dedicated endpoints have no status verb
// and get a minimal POST instead.
func (c *Client) Probe(ctx context.Context, m types.Model, token string) ProbeResult {
	if m.Provider == types.ProviderEndpoint {
		return c.Warm(ctx, m, token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusTarget(m), nil)
	if err != nil {
		return ProbeResult{State: StateError, Err: err}
	}
	setAuth(req, token)
	return c.classify(req, m.ID, false)
}

// Warm sends a throwaway inference so the provider starts loading m.
func (c *Client) Warm(ctx context.Context, m types.Model, token string) ProbeResult {
	body := map[string]any{
		"inputs":  "test",
		"options": map[string]any{"wait_for_model": false, "use_cache": false},
	}
	req, err := newJSONRequest(ctx, c.inferenceTarget(m), body)
	if err != nil {
		return ProbeResult{State: StateError, Err: err}
	}
	setAuth(req, token)
	return c.classify(req, m.ID, true)
}

// classify maps a probe or warm-up response to a state. A warm-up only
// counts as ready when the provider answered with image bytes; any other 2xx
// body is an error message.
func (c *Client) classify(req *http.Request, modelID string, wantImage bool) ProbeResult {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("model", modelID).Msg("probe transport error")
		return ProbeResult{State: StateError, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused; image bodies are discarded.
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := responseError(resp.StatusCode, b); err != nil {
		if le, ok := err.(*LoadingError); ok {
			return ProbeResult{State: StateLoading, EstimatedTime: le.EstimatedTime}
		}
		return ProbeResult{State: StateError, Err: err}
	}
	if wantImage && !isImageType(resp.Header.Get("Content-Type")) {
		return ProbeResult{State: StateError, Err: &HTTPError{Code: resp.StatusCode, Message: errorMessage(b, "unexpected response from model")}}
	}
	return ProbeResult{State: StateReady}
}

func isImageType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "application/octet-stream")
}

// Infer runs one generation call and returns the image bytes.
// Errors are *LoadingError, an auth error, *HTTPError or transport errors.
func (c *Client) Infer(ctx context.Context, m types.Model, token string, in InferenceRequest) (Image, error) {
	params := map[string]any{}
	for k, v := range in.Parameters {
		if k == "use_cache" {
			continue
		}
		params[k] = v
	}
	body := map[string]any{"inputs": in.Prompt}
	if len(params) > 0 {
		body["parameters"] = params
	}
	useCache := in.UseCache
	if b, ok := in.Parameters["use_cache"].(bool); ok && useCache == nil {
		useCache = &b
	}
	req, err := newJSONRequest(ctx, c.inferenceTarget(m), body)
	if err != nil {
		return Image{}, err
	}
	setAuth(req, token)
	req.Header.Set("Accept", "image/png, image/jpeg, image/*")
	if in.WaitForModel {
		req.Header.Set("X-Wait-For-Model", "true")
	}
	if useCache != nil {
		req.Header.Set("X-Use-Cache", fmt.Sprintf("%t", *useCache))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		return Image{}, responseError(resp.StatusCode, b)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		// Some endpoints answer 200 with a JSON error body.
		return Image{}, &HTTPError{Code: resp.StatusCode, Message: errorMessage(data, "unexpected JSON response")}
	}
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: ct}, nil
}

// responseError maps a non-2xx status to a typed error; nil for 2xx.
func responseError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth(status)
	case status == http.StatusServiceUnavailable:
		var payload struct {
			EstimatedTime float64 `json:"estimated_time"`
		}
		_ = json.Unmarshal(body, &payload)
		return &LoadingError{EstimatedTime: payload.EstimatedTime}
	default:
		return &HTTPError{Code: status, Message: errorMessage(body, fmt.Sprintf("Model unavailable (%d)", status))}
	}
}

// errorMessage extracts {"error": "..."} from body, else fallback.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch v := payload.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
	}
	return fallback
}

func newJSONRequest(ctx context.Context, target string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
