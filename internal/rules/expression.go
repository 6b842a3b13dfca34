package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// TypeExpression evaluates an operator-authored CEL expression over the
// enriched transaction context. Expressions must return bool (matched with
// score 1.0) or a numeric score in [0,1]. Compilation happens at
// instantiation, so a broken expression is a ValidationError and never
// reaches scheduling.
const TypeExpression = "expression"

var expressionSchema = Schema{
	{Name: "expression", Type: ParamString, Required: true},
}

type expressionRule struct {
	baseRule
	program cel.Program
}

// NewExpressionFactory returns the factory for the expression rule type. The
// CEL environment declares the context variables expressions may reference.
func NewExpressionFactory() (Factory, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("account_id", cel.StringType),
		cel.Variable("counterparty", cel.StringType),
		cel.Variable("account_age_days", cel.IntType),
		cel.Variable("inactive_days", cel.IntType),
		cel.Variable("recent_count", cel.IntType),
		cel.Variable("recent_total", cel.DoubleType),
		cel.Variable("prior_total", cel.DoubleType),
		cel.Variable("anomaly_score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return func(def *domain.RuleDefinition) (Rule, error) {
		params, err := expressionSchema.Validate(def)
		if err != nil {
			return nil, err
		}

		expr := params.String("expression", "")
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, &domain.ValidationError{RuleID: def.ID, Param: "expression", Reason: issues.Err().Error()}
		}

		outputType := ast.OutputType()
		if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
			return nil, &domain.ValidationError{RuleID: def.ID, Param: "expression",
				Reason: fmt.Sprintf("must return bool, int, or double, got %s", outputType)}
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, &domain.ValidationError{RuleID: def.ID, Param: "expression", Reason: err.Error()}
		}

		return &expressionRule{
			baseRule: baseRule{def: def, params: params},
			program:  program,
		}, nil
	}, nil
}

func (r *expressionRule) Evaluate(ctx context.Context, tc *domain.TransactionContext) domain.RuleResult {
	start := time.Now()
	res := r.newResult()

	activation := map[string]any{
		"amount":           tc.Tx.Amount,
		"currency":         tc.Tx.Currency,
		"tx_type":          tc.Tx.Type,
		"account_id":       tc.Tx.AccountID,
		"counterparty":     tc.Tx.Counterparty,
		"account_age_days": int64(tc.AccountAgeDays),
		"inactive_days":    int64(tc.InactiveDays),
		"recent_count":     tc.RecentCount,
		"recent_total":     tc.RecentTotal,
		"prior_total":      tc.PriorTotal,
		"anomaly_score":    tc.AnomalyScore,
	}

	out, _, err := r.program.Eval(activation)
	if err != nil {
		res.Err = fmt.Sprintf("expression evaluation: %v", err)
		return finish(res, start)
	}

	score := toScore(out)
	if score > 0 {
		res.Matched = true
		res.Score = clampScore(score)
		res.Reason = "expression matched"
	} else {
		res.Reason = "expression did not match"
	}
	return finish(res, start)
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
