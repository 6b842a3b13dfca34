// Package rules provides the detection rule contract, the built-in rule
// types, and the registry that instantiates validated rules from persisted
// definitions.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// Rule is one configured, immutable detection check. Evaluate is pure with
// respect to external state: it reads the context, never mutates anything
// shared, and must honor ctx cancellation. Internal failures are captured in
// the returned result (Err set, Matched=false) rather than propagated, so one
// rule's failure never aborts the batch.
type Rule interface {
	ID() string
	Definition() *domain.RuleDefinition
	Evaluate(ctx context.Context, tc *domain.TransactionContext) domain.RuleResult
}

// ParamType enumerates the value types a rule parameter may take.
type ParamType string

const (
	ParamFloat  ParamType = "float"
	ParamInt    ParamType = "int"
	ParamString ParamType = "string"
	ParamBool   ParamType = "bool"
)

// ParamSpec declares one configurable parameter of a rule type.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any
	Min      *float64
	Max      *float64
}

// Schema is the full parameter schema of a rule type, checked at
// instantiation so malformed configuration never reaches scheduling.
type Schema []ParamSpec

// Validate checks def.Params against the schema and returns the effective
// parameter set with defaults applied. Unknown parameters, missing required
// parameters, wrong types, and out-of-range values all fail with a
// ValidationError.
func (s Schema) Validate(def *domain.RuleDefinition) (domain.ParameterSet, error) {
	specs := make(map[string]ParamSpec, len(s))
	for _, spec := range s {
		specs[spec.Name] = spec
	}

	for name := range def.Params {
		if _, ok := specs[name]; !ok {
			return nil, &domain.ValidationError{RuleID: def.ID, Param: name, Reason: "not declared by rule type"}
		}
	}

	out := make(domain.ParameterSet, len(s))
	for _, spec := range s {
		raw, present := def.Params[spec.Name]
		if !present {
			if spec.Required {
				return nil, &domain.ValidationError{RuleID: def.ID, Param: spec.Name, Reason: "required parameter missing"}
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}

		val, err := coerce(raw, spec.Type)
		if err != nil {
			return nil, &domain.ValidationError{RuleID: def.ID, Param: spec.Name, Reason: err.Error()}
		}

		if num, ok := asFloat(val); ok {
			if spec.Min != nil && num < *spec.Min {
				return nil, &domain.ValidationError{RuleID: def.ID, Param: spec.Name, Reason: fmt.Sprintf("must be >= %v", *spec.Min)}
			}
			if spec.Max != nil && num > *spec.Max {
				return nil, &domain.ValidationError{RuleID: def.ID, Param: spec.Name, Reason: fmt.Sprintf("must be <= %v", *spec.Max)}
			}
		}

		out[spec.Name] = val
	}

	return out, nil
}

// coerce converts a raw parameter value to the declared type. JSON decoding
// yields float64 for every number, so int parameters accept whole floats.
func coerce(raw any, t ParamType) (any, error) {
	switch t {
	case ParamFloat:
		if f, ok := asFloat(raw); ok {
			return f, nil
		}
		return nil, fmt.Errorf("expected number, got %T", raw)
	case ParamInt:
		f, ok := asFloat(raw)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
		if f != float64(int64(f)) {
			return nil, fmt.Errorf("expected integer, got %v", raw)
		}
		return int(f), nil
	case ParamString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", raw)
	case ParamBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", raw)
	default:
		return nil, fmt.Errorf("unknown parameter type %q", t)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func floatPtr(f float64) *float64 { return &f }

// baseRule carries the definition and validated parameters shared by all
// built-in rule types.
type baseRule struct {
	def    *domain.RuleDefinition
	params domain.ParameterSet
}

func (b *baseRule) ID() string                         { return b.def.ID }
func (b *baseRule) Definition() *domain.RuleDefinition { return b.def }

// newResult starts a result for this rule; callers fill the outcome fields
// and stamp elapsed time via finish.
func (b *baseRule) newResult() domain.RuleResult {
	return domain.RuleResult{
		RuleID: b.def.ID,
		Weight: b.def.Weight,
	}
}

func finish(r domain.RuleResult, start time.Time) domain.RuleResult {
	r.ProcessMs = time.Since(start).Milliseconds()
	return r
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
