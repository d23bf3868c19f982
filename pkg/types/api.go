package types

// EnqueueRequest is the body of POST /queue.
type EnqueueRequest struct {
	// Registry model identifier.
	// example: stable-diffusion
	Model string `json:"model" example:"stable-diffusion"`
	// Prompt text forwarded to the provider.
	// example: a neon arcade at night
	Prompt string `json:"prompt" example:"a neon arcade at night"`
	// Generation parameters, validated against the model's schema.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// QueueResponse wraps the queue snapshot returned by GET /queue.
type QueueResponse struct {
	Requests []QueuedRequest `json:"requests"`
	// Number of pending requests.
	// example: 2
	Pending int `json:"pending" example:"2"`
	// Maximum pending requests before enqueue is rejected.
	// example: 10
	MaxPending int `json:"max_pending" example:"10"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ModelStatusResponse is returned by GET /models/{id}/status and POST /models/{id}/warmup.
type ModelStatusResponse struct {
	// example: stable-diffusion
	ModelID string          `json:"model_id" example:"stable-diffusion"`
	Status  ModelLoadStatus `json:"status"`
	// Client-side extrapolated loading progress, 0-100.
	// example: 42
	Progress int `json:"progress" example:"42"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// QueueStats summarises the request queue for /status.
type QueueStats struct {
	Pending    int `json:"pending" example:"3"`
	Processing int `json:"processing" example:"1"`
	Complete   int `json:"complete" example:"5"`
	Failed     int `json:"failed" example:"1"`
	MaxPending int `json:"max_pending" example:"10"`
	// Number of in-flight generation calls (bounded by 1).
	Inflight int `json:"inflight" example:"1"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Queue QueueStats `json:"queue"`
	// Cached readiness per model id.
	Models map[string]ModelLoadStatus `json:"models"`
	// Whether a provider credential is configured.
	TokenConfigured bool `json:"token_configured"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
