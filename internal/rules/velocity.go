package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// TypeVelocity detects bursts of activity: the account's transaction count
// over the enrichment's recent window at or above a configured threshold.
// The raw score grades with how far past the threshold the count runs, a
// rule-internal factor that never leaks into composite weighting.
const TypeVelocity = "velocity"

var velocitySchema = Schema{
	{Name: "count_threshold", Type: ParamInt, Default: 10, Min: floatPtr(1)},
}

type velocityRule struct {
	baseRule
}

// NewVelocityFactory returns the factory for the velocity rule type.
func NewVelocityFactory() Factory {
	return func(def *domain.RuleDefinition) (Rule, error) {
		params, err := velocitySchema.Validate(def)
		if err != nil {
			return nil, err
		}
		return &velocityRule{baseRule{def: def, params: params}}, nil
	}
}

func (r *velocityRule) Evaluate(ctx context.Context, tc *domain.TransactionContext) domain.RuleResult {
	start := time.Now()
	res := r.newResult()

	threshold := r.params.Int("count_threshold", 10)
	count := tc.RecentCount

	if count < int64(threshold) {
		res.Reason = fmt.Sprintf("%d recent transactions, threshold %d", count, threshold)
		return finish(res, start)
	}

	// Score grades from 0.5 at the threshold up to 1.0 at twice it.
	score := float64(count) / float64(2*threshold)
	if score < 0.5 {
		score = 0.5
	}

	res.Matched = true
	res.Score = clampScore(score)
	res.Reason = fmt.Sprintf("%d recent transactions at or above threshold %d", count, threshold)
	return finish(res, start)
}
