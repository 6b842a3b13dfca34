package domain

import (
	"time"
)

// Tier labels for composite risk scores, lowest to highest.
const (
	TierNone   = "none"
	TierLow    = "low"
	TierMedium = "medium"
	TierHigh   = "high"
)

// TierThreshold maps an inclusive lower score bound to a tier label.
type TierThreshold struct {
	Score float64 `json:"score"`
	Tier  string  `json:"tier"`
}

// CompositeScore is the weighted aggregate of all rule results for one
// transaction. It is derived, never persisted on its own; a breach of the
// alert cutoff feeds the alert workflow.
type CompositeScore struct {
	TxID    string       `json:"txId"`
	Total   float64      `json:"total"`
	Tier    string       `json:"tier"`
	Results []RuleResult `json:"results"`
}

// Evaluation is the persisted record of one complete transaction evaluation.
type Evaluation struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txId"`
	Score     float64   `json:"score"`
	Tier      string    `json:"tier"`
	Timestamp time.Time `json:"timestamp"`

	RuleResults []RuleResult `json:"ruleResults"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata carries processing information for observability and
// audit.
type EvaluationMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	EnrichMs       int64  `json:"enrichMs"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	CacheHits      int    `json:"cacheHits"`
	Timeouts       int    `json:"timeouts"`
	Degraded       bool   `json:"degraded"`
	EngineVersion  string `json:"engineVersion"`
}
