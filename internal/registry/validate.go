package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"lounged/pkg/types"
)

// ValidationError lists every problem found in one parameter bag.
type ValidationError struct {
	ModelID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.ModelID, strings.Join(e.Problems, "; "))
}

// unknownModelError is returned by Validate for ids absent from the registry.
type unknownModelError struct{ id string }

func (e unknownModelError) Error() string { return "unknown model: " + e.id }

// IsUnknownModel reports whether err was caused by an unregistered model id.
func IsUnknownModel(err error) bool {
	var e unknownModelError
	return errors.As(err, &e)
}

// Validate checks raw against the schema of model id and returns the
// normalised parameter bag: unknown keys are rejected, defaults filled in and
// every number converted to float64.
func (r *Registry) Validate(id string, raw map[string]any) (types.Params, error) {
	m, ok := r.Get(id)
	if !ok {
		return nil, unknownModelError{id: id}
	}
	out := make(types.Params, len(m.Parameters))
	var problems []string

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec, known := m.Parameters[k]
		if !known {
			problems = append(problems, fmt.Sprintf("%s: unknown parameter", k))
			continue
		}
		v := raw[k]
		if v == nil {
			continue
		}
		nv, err := normalise(spec, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", k, err))
			continue
		}
		out[k] = nv
	}
	for k, spec := range m.Parameters {
		if _, set := out[k]; set || spec.Default == nil {
			continue
		}
		if nv, err := normalise(spec, spec.Default); err == nil {
			out[k] = nv
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{ModelID: id, Problems: problems}
	}
	return out, nil
}

func normalise(spec types.ParamSpec, v any) (any, error) {
	switch spec.Type {
	case types.ParamNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("not a finite number")
		}
		if spec.Integer && f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		if spec.Min != nil && f < *spec.Min {
			return nil, fmt.Errorf("%v below minimum %v", f, *spec.Min)
		}
		if spec.Max != nil && f > *spec.Max {
			return nil, fmt.Errorf("%v above maximum %v", f, *spec.Max)
		}
		return f, nil
	case types.ParamString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case types.ParamBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case types.ParamSelect:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of %s", strings.Join(spec.Options, ", "))
		}
		if !slices.Contains(spec.Options, s) {
			return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(spec.Options, ", "))
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported parameter type %q", spec.Type)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		// Form-encoded clients send numbers as strings.
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
