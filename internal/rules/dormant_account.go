package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// TypeDormantAccount detects significant activity in a previously inactive
// account: the account is old enough to be monitored for dormancy, showed at
// most negligible activity through the prior window, and now sees a
// transaction at or above the activity threshold.
const TypeDormantAccount = "dormant_account"

var dormantAccountSchema = Schema{
	{Name: "account_age_days", Type: ParamInt, Default: 90, Min: floatPtr(1)},
	{Name: "inactive_days", Type: ParamInt, Default: 90, Min: floatPtr(1)},
	{Name: "activity_amount", Type: ParamFloat, Default: 10000.0, Min: floatPtr(0)},
	{Name: "max_prior_activity", Type: ParamFloat, Default: 1000.0, Min: floatPtr(0)},
}

type dormantAccountRule struct {
	baseRule
}

// NewDormantAccountFactory returns the factory for the dormant_account rule
// type.
func NewDormantAccountFactory() Factory {
	return func(def *domain.RuleDefinition) (Rule, error) {
		params, err := dormantAccountSchema.Validate(def)
		if err != nil {
			return nil, err
		}
		return &dormantAccountRule{baseRule{def: def, params: params}}, nil
	}
}

func (r *dormantAccountRule) Evaluate(ctx context.Context, tc *domain.TransactionContext) domain.RuleResult {
	start := time.Now()
	res := r.newResult()

	minAge := r.params.Int("account_age_days", 90)
	minInactive := r.params.Int("inactive_days", 90)
	activityAmount := r.params.Float("activity_amount", 10000)
	maxPrior := r.params.Float("max_prior_activity", 1000)

	switch {
	case tc.AccountAgeDays < minAge:
		res.Reason = fmt.Sprintf("account age %dd below minimum %dd", tc.AccountAgeDays, minAge)
	case tc.InactiveDays < minInactive:
		res.Reason = fmt.Sprintf("inactive %dd, dormancy requires %dd", tc.InactiveDays, minInactive)
	case tc.PriorTotal > maxPrior:
		res.Reason = fmt.Sprintf("prior activity %.2f exceeds dormancy limit %.2f", tc.PriorTotal, maxPrior)
	case tc.Tx.Amount < activityAmount:
		res.Reason = fmt.Sprintf("amount %.2f below activity threshold %.2f", tc.Tx.Amount, activityAmount)
	default:
		res.Matched = true
		res.Score = 1.0
		res.Reason = fmt.Sprintf("dormant account active: %.2f after %dd of inactivity", tc.Tx.Amount, tc.InactiveDays)
	}

	return finish(res, start)
}
