package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// ParameterSet holds a rule's configuration parameters as a key-value
// mapping. Values are validated against the rule type's parameter schema at
// instantiation, never trusted at evaluation time.
type ParameterSet map[string]any

// Float returns the named parameter as a float64, falling back to def.
// JSON decoding produces float64 for all numbers, so int-typed parameters
// also land here.
func (p ParameterSet) Float(name string, def float64) float64 {
	switch v := p[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int returns the named parameter as an int, falling back to def.
func (p ParameterSet) Int(name string, def int) int {
	switch v := p[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// String returns the named parameter as a string, falling back to def.
func (p ParameterSet) String(name string, def string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return def
}

// Hash returns a stable hash over the parameter set. Keys are sorted so two
// sets with equal contents always hash identically regardless of insertion
// order. Used as a cache key component: a changed parameter must never be
// served a stale cached result.
func (p ParameterSet) Hash() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v, _ := json.Marshal(p[k])
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(v)
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RuleDefinition is the persisted configuration of one detection rule. It is
// loaded read-only by the registry per reload cycle; the engine never mutates
// it.
type RuleDefinition struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`

	// TransactionTypes limits the rule to the listed transaction types.
	// Empty (or containing "all") means the rule applies to everything.
	TransactionTypes []string `json:"transactionTypes,omitempty"`

	// Priority orders rules in the scheduling sequence (lower first);
	// ties break on rule ID so runs are reproducible.
	Priority int `json:"priority"`

	// Weight scales this rule's contribution to the composite score.
	Weight float64 `json:"weight"`

	Params ParameterSet `json:"params,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// AppliesTo reports whether the definition covers the given transaction type.
func (d *RuleDefinition) AppliesTo(txType string) bool {
	if len(d.TransactionTypes) == 0 {
		return true
	}
	for _, t := range d.TransactionTypes {
		if t == "all" || t == txType {
			return true
		}
	}
	return false
}

// RuleResult is the immutable outcome of evaluating one rule against one
// transaction. Score is always within [0,1]; a failed or timed-out rule
// reports Matched=false with Err set and contributes zero to the composite.
type RuleResult struct {
	RuleID   string  `json:"ruleId"`
	Matched  bool    `json:"matched"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
	Weight   float64 `json:"weight"`
	Err      string  `json:"error,omitempty"`
	TimedOut bool    `json:"timedOut,omitempty"`

	ProcessMs int64 `json:"processMs"`
}

// Failed reports whether the rule evaluation ended in an error or timeout.
func (r *RuleResult) Failed() bool {
	return r.Err != ""
}

// Contribution is the rule's share of the composite score.
func (r *RuleResult) Contribution() float64 {
	if !r.Matched || r.Failed() {
		return 0
	}
	return r.Score * r.Weight
}
