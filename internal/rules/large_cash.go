package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// TypeLargeCash detects individual cash transactions at or above a
// configured threshold, optionally restricted to one currency.
const TypeLargeCash = "large_cash"

var largeCashSchema = Schema{
	{Name: "amount_threshold", Type: ParamFloat, Default: 10000.0, Min: floatPtr(0)},
	{Name: "currency", Type: ParamString},
}

type largeCashRule struct {
	baseRule
}

// NewLargeCashFactory returns the factory for the large_cash rule type.
func NewLargeCashFactory() Factory {
	return func(def *domain.RuleDefinition) (Rule, error) {
		params, err := largeCashSchema.Validate(def)
		if err != nil {
			return nil, err
		}
		return &largeCashRule{baseRule{def: def, params: params}}, nil
	}
}

func (r *largeCashRule) Evaluate(ctx context.Context, tc *domain.TransactionContext) domain.RuleResult {
	start := time.Now()
	res := r.newResult()

	threshold := r.params.Float("amount_threshold", 10000)
	currency := r.params.String("currency", "")

	if currency != "" && tc.Tx.Currency != currency {
		res.Reason = fmt.Sprintf("currency %s not monitored", tc.Tx.Currency)
		return finish(res, start)
	}

	if tc.Tx.Amount < threshold {
		res.Reason = fmt.Sprintf("amount %.2f below threshold %.2f", tc.Tx.Amount, threshold)
		return finish(res, start)
	}

	res.Matched = true
	res.Score = 1.0
	res.Reason = fmt.Sprintf("amount %.2f meets threshold %.2f", tc.Tx.Amount, threshold)
	return finish(res, start)
}
