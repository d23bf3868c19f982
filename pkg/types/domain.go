package types

import "time"

// Provider kinds understood by the provider client.
const (
	ProviderHuggingFace = "huggingface"
	ProviderEndpoint    = "endpoint"
)

// Parameter value kinds accepted by ParamSpec.Type.
const (
	ParamNumber  = "number"
	ParamString  = "string"
	ParamBoolean = "boolean"
	ParamSelect  = "select"
)

// Model is one entry of the static model registry.
type Model struct {
	// Stable identifier for the model.
	// example: stable-diffusion
	ID string `json:"id" yaml:"id" toml:"id" example:"stable-diffusion"`
	// Human-friendly name.
	// example: Stable Diffusion
	Name string `json:"name" yaml:"name" toml:"name" example:"Stable Diffusion"`
	// Provider kind: huggingface or endpoint.
	// example: huggingface
	Provider string `json:"provider" yaml:"provider" toml:"provider" example:"huggingface"`
	// Provider-side model path (huggingface) or full URL (endpoint).
	// example: stabilityai/stable-diffusion-2-1
	Endpoint    string `json:"endpoint" yaml:"endpoint" toml:"endpoint" example:"stabilityai/stable-diffusion-2-1"`
	Description string `json:"description,omitempty" yaml:"description" toml:"description"`
	// Whether calls need a bearer credential.
	RequiresAuth bool `json:"requires_auth" yaml:"requires_auth" toml:"requires_auth"`
	// Parameter schema keyed by parameter name.
	Parameters map[string]ParamSpec `json:"parameters,omitempty" yaml:"parameters" toml:"parameters"`
}

// ParamSpec describes one accepted generation parameter.
type ParamSpec struct {
	Label       string   `json:"label" yaml:"label" toml:"label"`
	Type        string   `json:"type" yaml:"type" toml:"type"`
	Options     []string `json:"options,omitempty" yaml:"options" toml:"options"`
	Min         *float64 `json:"min,omitempty" yaml:"min" toml:"min"`
	Max         *float64 `json:"max,omitempty" yaml:"max" toml:"max"`
	Step        *float64 `json:"step,omitempty" yaml:"step" toml:"step"`
	Integer     bool     `json:"integer,omitempty" yaml:"integer" toml:"integer"`
	Default     any      `json:"default,omitempty" yaml:"default" toml:"default"`
	Description string   `json:"description,omitempty" yaml:"description" toml:"description"`
	Advanced    bool     `json:"advanced,omitempty" yaml:"advanced" toml:"advanced"`
}

// Params is a validated, normalised parameter bag: numbers are float64,
// defaults are filled in and unknown keys have been rejected.
type Params map[string]any

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RequestStatus is the lifecycle state of a queued request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusComplete   RequestStatus = "complete"
	StatusFailed     RequestStatus = "failed"
)

// Terminal reports whether s is complete or failed.
func (s RequestStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// QueuedRequest is one image generation job.
type QueuedRequest struct {
	ID         string        `json:"id" example:"0b5e2a4c-6d1f-4f7e-9d3a-0f3d1c2b4a5e"`
	ModelID    string        `json:"model_id" example:"stable-diffusion"`
	Prompt     string        `json:"prompt" example:"a neon arcade at night"`
	Parameters Params        `json:"parameters,omitempty"`
	Status     RequestStatus `json:"status" example:"pending"`
	Timestamp  time.Time     `json:"timestamp"`
	// Advisory progress percentage, 0-100.
	Progress int `json:"progress" example:"0"`
	// 1-based rank among pending requests; 0 when not pending.
	Position     int    `json:"position,omitempty" example:"1"`
	Error        string `json:"error,omitempty"`
	ResultURL    string `json:"result_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ModelLoadStatus is the last known readiness of a remote model.
type ModelLoadStatus struct {
	Loaded    bool      `json:"loaded"`
	Loading   bool      `json:"loading"`
	LastCheck time.Time `json:"last_check"`
	// Provider-supplied seconds remaining, present while loading.
	EstimatedTime float64    `json:"estimated_time,omitempty"`
	LoadStartTime *time.Time `json:"load_start_time,omitempty"`
	Error         string     `json:"error,omitempty"`
	// Consecutive failed warm-ups since the last success.
	Attempts          int        `json:"attempts,omitempty"`
	NextRetry         *time.Time `json:"next_retry,omitempty"`
	PermanentlyFailed bool       `json:"permanently_failed,omitempty"`
}
