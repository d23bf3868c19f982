package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lounged/internal/blobstore"
	"lounged/internal/queue"
	"lounged/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	// CheckStatus and Warmup return an invalid-model error for unknown ids.
	CheckStatus(ctx context.Context, modelID, token string) (types.ModelStatusResponse, error)
	Warmup(ctx context.Context, modelID, token string) (types.ModelStatusResponse, error)

	Enqueue(ctx context.Context, req types.EnqueueRequest) (types.QueuedRequest, error)
	Queue() types.QueueResponse
	Get(id string) (types.QueuedRequest, bool)
	Cancel(id string) error
	Subscribe(fn func([]types.QueuedRequest)) (unsubscribe func())

	OpenImage(ctx context.Context, name string) (io.ReadCloser, error)
	Status() types.StatusResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Authorization", "Content-Type"}),
			MaxAge:         300,
		}))
	}

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	})

	r.Get("/models/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.CheckStatus(r.Context(), chi.URLParam(r, "id"), bearerToken(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/models/{id}/warmup", func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Warmup(r.Context(), chi.URLParam(r, "id"), bearerToken(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/queue", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		if req.Model == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		out, err := svc.Enqueue(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", "/queue/"+out.ID)
		writeJSON(w, http.StatusCreated, out)
	})

	r.Get("/queue", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Queue())
	})

	// Registered before /queue/{id} so "events" is never taken as an id.
	r.Get("/queue/events", func(w http.ResponseWriter, r *http.Request) {
		serveQueueEvents(w, r, svc)
	})

	r.Get("/queue/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		req, ok := svc.Get(id)
		if !ok {
			writeServiceError(w, r, queue.ErrRequestNotFound(id))
			return
		}
		writeJSON(w, http.StatusOK, req)
	})

	r.Delete("/queue/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.Cancel(id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		req, _ := svc.Get(id)
		writeJSON(w, http.StatusOK, req)
	})

	r.Get("/images/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !blobstore.ValidName(name) {
			writeJSONError(w, http.StatusNotFound, "image not found")
			return
		}
		rc, err := svc.OpenImage(r.Context(), name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		defer rc.Close()
		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		// Image names are job ids and never rewritten.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		_, _ = io.Copy(w, rc)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// bearerToken returns the credential from "Authorization: Bearer <token>",
// or "" so the service falls back to its configured token.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var he HTTPError
	switch {
	case queue.IsInvalidParams(err):
		status = http.StatusBadRequest
	case queue.IsInvalidModel(err), queue.IsRequestNotFound(err), errors.Is(err, blobstore.ErrNotFound):
		status = http.StatusNotFound
	case queue.IsQueueFull(err):
		status = http.StatusTooManyRequests
		IncrementBackpressure("queue_full")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if r.Context().Err() != nil {
			return
		}
		status = http.StatusGatewayTimeout
	case errors.As(err, &he):
		status = he.StatusCode()
	}
	if status >= http.StatusInternalServerError {
		logFor(r).Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")
	}
	msg := err.Error()
	if status == http.StatusNotFound && errors.Is(err, blobstore.ErrNotFound) {
		msg = "image not found"
	}
	writeJSONError(w, status, msg)
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
