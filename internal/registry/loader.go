package registry

import (
	"fmt"
	"os"
	"strings"

	"lounged/internal/common/fsutil"
	"lounged/internal/config"
	"lounged/pkg/types"
)

// Registry is the static, read-only set of models the service may queue work for.
type Registry struct {
	models []types.Model
	byID   map[string]int
}

type registryFile struct {
	Models []types.Model `json:"models" yaml:"models" toml:"models"`
}

// New builds a registry from models, rejecting duplicates and incomplete entries.
func New(models []types.Model) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(models))}
	for _, m := range models {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("model without id")
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		if m.Endpoint == "" {
			return nil, fmt.Errorf("model %q: missing endpoint", m.ID)
		}
		switch m.Provider {
		case "":
			m.Provider = types.ProviderHuggingFace
		case types.ProviderHuggingFace, types.ProviderEndpoint:
		default:
			return nil, fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		for name, spec := range m.Parameters {
			switch spec.Type {
			case types.ParamNumber, types.ParamString, types.ParamBoolean:
			case types.ParamSelect:
				if len(spec.Options) == 0 {
					return nil, fmt.Errorf("model %q: select parameter %q has no options", m.ID, name)
				}
			default:
				return nil, fmt.Errorf("model %q: parameter %q has unknown type %q", m.ID, name, spec.Type)
			}
		}
		r.byID[m.ID] = len(r.models)
		r.models = append(r.models, m)
	}
	return r, nil
}

// Load reads a registry file (.yaml/.yml, .json, .toml) with a top-level
// "models" list. An empty path yields the built-in registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(Builtin())
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := config.Decode(p, b, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", p, err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("registry %s: no models", p)
	}
	return New(f.Models)
}

// Get returns the model with id.
func (r *Registry) Get(id string) (types.Model, bool) {
	i, ok := r.byID[id]
	if !ok {
		return types.Model{}, false
	}
	return r.models[i], true
}

// Models returns a copy of the registered models in declaration order.
func (r *Registry) Models() []types.Model {
	out := make([]types.Model, len(r.models))
	copy(out, r.models)
	return out
}

// IDs returns the registered model ids in declaration order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m.ID)
	}
	return out
}

func fptr(f float64) *float64 { return &f }

// Builtin returns the default model set used when no registry file is configured.
func Builtin() []types.Model {
	return []types.Model{
		{
			ID:           "stable-diffusion",
			Name:         "Stable Diffusion",
			Provider:     types.ProviderHuggingFace,
			Endpoint:     "stabilityai/stable-diffusion-xl-base-1.0",
			Description:  "Stable Diffusion model for high-quality image generation",
			RequiresAuth: true,
			Parameters: map[string]types.ParamSpec{
				"negative_prompt": {
					Label:       "Negative Prompt",
					Type:        types.ParamString,
					Default:     "blurry, bad quality, distorted",
					Description: "What to avoid in the generated image",
				},
				"num_inference_steps": {
					Label:       "Steps",
					Type:        types.ParamNumber,
					Min:         fptr(1),
					Max:         fptr(50),
					Integer:     true,
					Default:     20,
					Description: "Number of denoising steps",
				},
				"guidance_scale": {
					Label:       "Guidance Scale",
					Type:        types.ParamNumber,
					Min:         fptr(1),
					Max:         fptr(20),
					Step:        fptr(0.1),
					Default:     7.5,
					Description: "How closely to follow the prompt",
				},
				"width": {
					Label:    "Width",
					Type:     types.ParamNumber,
					Min:      fptr(128),
					Max:      fptr(1024),
					Integer:  true,
					Default:  512,
					Advanced: true,
				},
				"height": {
					Label:    "Height",
					Type:     types.ParamNumber,
					Min:      fptr(128),
					Max:      fptr(1024),
					Integer:  true,
					Default:  512,
					Advanced: true,
				},
				"seed": {
					Label:    "Seed",
					Type:     types.ParamNumber,
					Integer:  true,
					Advanced: true,
				},
				"scheduler": {
					Label:    "Scheduler",
					Type:     types.ParamSelect,
					Options:  []string{"DDIM", "DPMSolverMultistep", "HeunDiscrete", "KarrasDPM", "K_EULER_ANCESTRAL", "K_EULER", "PNDM"},
					Advanced: true,
				},
				"use_cache": {
					Label:    "Use provider cache",
					Type:     types.ParamBoolean,
					Advanced: true,
				},
			},
		},
	}
}
