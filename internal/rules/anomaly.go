package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// TypeAnomaly passes the ML subsystem's anomaly score through as a rule
// outcome. The enricher substitutes a neutral 0 when the model is
// unreachable, so this rule quietly contributes nothing on degraded
// evaluations.
const TypeAnomaly = "anomaly"

var anomalySchema = Schema{
	{Name: "score_threshold", Type: ParamFloat, Default: 0.8, Min: floatPtr(0), Max: floatPtr(1)},
}

type anomalyRule struct {
	baseRule
}

// NewAnomalyFactory returns the factory for the anomaly rule type.
func NewAnomalyFactory() Factory {
	return func(def *domain.RuleDefinition) (Rule, error) {
		params, err := anomalySchema.Validate(def)
		if err != nil {
			return nil, err
		}
		return &anomalyRule{baseRule{def: def, params: params}}, nil
	}
}

func (r *anomalyRule) Evaluate(ctx context.Context, tc *domain.TransactionContext) domain.RuleResult {
	start := time.Now()
	res := r.newResult()

	threshold := r.params.Float("score_threshold", 0.8)
	score := clampScore(tc.AnomalyScore)

	if score < threshold {
		res.Reason = fmt.Sprintf("anomaly score %.3f below threshold %.3f", score, threshold)
		return finish(res, start)
	}

	res.Matched = true
	res.Score = score
	res.Reason = fmt.Sprintf("anomaly score %.3f at or above threshold %.3f", score, threshold)
	return finish(res, start)
}
