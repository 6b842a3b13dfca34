package rules

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

func testContext(tx *domain.Transaction) *domain.TransactionContext {
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	return &domain.TransactionContext{Tx: tx}
}

func TestSchemaValidation(t *testing.T) {
	schema := Schema{
		{Name: "amount_threshold", Type: ParamFloat, Default: 10000.0, Min: floatPtr(0)},
		{Name: "currency", Type: ParamString},
		{Name: "count_threshold", Type: ParamInt, Default: 10, Min: floatPtr(1)},
		{Name: "expression", Type: ParamString, Required: true},
	}

	tests := []struct {
		name    string
		params  domain.ParameterSet
		wantErr string
	}{
		{
			name:   "ValidParams",
			params: domain.ParameterSet{"amount_threshold": 5000.0, "currency": "USD", "expression": "amount > 100"},
		},
		{
			name:    "MissingRequired",
			params:  domain.ParameterSet{"amount_threshold": 5000.0},
			wantErr: "required parameter missing",
		},
		{
			name:    "UnknownParam",
			params:  domain.ParameterSet{"expression": "true", "typo_threshold": 1.0},
			wantErr: "not declared by rule type",
		},
		{
			name:    "WrongType",
			params:  domain.ParameterSet{"expression": "true", "amount_threshold": "lots"},
			wantErr: "expected number",
		},
		{
			name:    "BelowMinimum",
			params:  domain.ParameterSet{"expression": "true", "amount_threshold": -5.0},
			wantErr: "must be >=",
		},
		{
			name:    "FractionalInt",
			params:  domain.ParameterSet{"expression": "true", "count_threshold": 2.5},
			wantErr: "expected integer",
		},
		{
			// JSON decoding yields float64 for every number
			name:   "WholeFloatAsInt",
			params: domain.ParameterSet{"expression": "true", "count_threshold": 5.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &domain.RuleDefinition{ID: "r1", Params: tt.params}
			out, err := schema.Validate(def)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected error containing %q, got params %v", tt.wantErr, out)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestSchemaAppliesDefaults(t *testing.T) {
	schema := Schema{
		{Name: "amount_threshold", Type: ParamFloat, Default: 10000.0},
	}

	params, err := schema.Validate(&domain.RuleDefinition{ID: "r1"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got := params.Float("amount_threshold", 0); got != 10000.0 {
		t.Errorf("expected default 10000, got %v", got)
	}
}

func TestLargeCashRule(t *testing.T) {
	factory := NewLargeCashFactory()
	rule, err := factory(&domain.RuleDefinition{
		ID:     "lc-1",
		Type:   TypeLargeCash,
		Weight: 0.6,
		Params: domain.ParameterSet{"amount_threshold": 10000.0, "currency": "USD"},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	ctx := context.Background()

	tests := []struct {
		name      string
		amount    float64
		currency  string
		wantMatch bool
	}{
		{"BelowThreshold", 9999.99, "USD", false},
		{"AtThreshold", 10000.00, "USD", true},
		{"AboveThreshold", 25000.00, "USD", true},
		{"WrongCurrency", 25000.00, "EUR", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := testContext(&domain.Transaction{
				ID: "tx-1", AccountID: "acc-1", Amount: tt.amount, Currency: tt.currency, Type: "cash_deposit",
			})
			res := rule.Evaluate(ctx, tc)

			if res.Matched != tt.wantMatch {
				t.Errorf("Matched = %v, want %v (%s)", res.Matched, tt.wantMatch, res.Reason)
			}
			if tt.wantMatch && res.Score != 1.0 {
				t.Errorf("expected score 1.0 on match, got %v", res.Score)
			}
			if res.Weight != 0.6 {
				t.Errorf("expected weight 0.6 carried into result, got %v", res.Weight)
			}
		})
	}
}

func TestDormantAccountRule(t *testing.T) {
	factory := NewDormantAccountFactory()
	rule, err := factory(&domain.RuleDefinition{
		ID:   "da-1",
		Type: TypeDormantAccount,
		// defaults: age 90d, inactive 90d, activity 10000, prior limit 1000
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	ctx := context.Background()

	tests := []struct {
		name       string
		ageDays    int
		inactive   int
		priorTotal float64
		amount     float64
		wantMatch  bool
	}{
		{"DormantAwakens", 365, 120, 0, 15000, true},
		{"AccountTooYoung", 30, 120, 0, 15000, false},
		{"RecentlyActive", 365, 10, 0, 15000, false},
		{"PriorActivityTooHigh", 365, 120, 5000, 15000, false},
		{"AmountTooSmall", 365, 120, 0, 500, false},
		{"NewAccountZeroes", 0, 0, 0, 15000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := testContext(&domain.Transaction{ID: "tx-1", AccountID: "acc-1", Amount: tt.amount, Currency: "USD", Type: "wire_transfer"})
			tc.AccountAgeDays = tt.ageDays
			tc.InactiveDays = tt.inactive
			tc.PriorTotal = tt.priorTotal

			res := rule.Evaluate(ctx, tc)
			if res.Matched != tt.wantMatch {
				t.Errorf("Matched = %v, want %v (%s)", res.Matched, tt.wantMatch, res.Reason)
			}
		})
	}
}

func TestVelocityRule(t *testing.T) {
	factory := NewVelocityFactory()
	rule, err := factory(&domain.RuleDefinition{
		ID:     "vel-1",
		Type:   TypeVelocity,
		Params: domain.ParameterSet{"count_threshold": 10.0},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	ctx := context.Background()

	tests := []struct {
		name      string
		count     int64
		wantMatch bool
		wantScore float64
	}{
		{"BelowThreshold", 9, false, 0},
		{"AtThreshold", 10, true, 0.5},
		{"BetweenThresholdAndDouble", 15, true, 0.75},
		{"AtDouble", 20, true, 1.0},
		{"FarPastDouble", 100, true, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := testContext(&domain.Transaction{ID: "tx-1", AccountID: "acc-1", Amount: 100, Currency: "USD", Type: "wire_transfer"})
			tc.RecentCount = tt.count

			res := rule.Evaluate(ctx, tc)
			if res.Matched != tt.wantMatch {
				t.Fatalf("Matched = %v, want %v (%s)", res.Matched, tt.wantMatch, res.Reason)
			}
			if res.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", res.Score, tt.wantScore)
			}
		})
	}
}

func TestAnomalyRule(t *testing.T) {
	factory := NewAnomalyFactory()
	rule, err := factory(&domain.RuleDefinition{
		ID:     "an-1",
		Type:   TypeAnomaly,
		Params: domain.ParameterSet{"score_threshold": 0.8},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	ctx := context.Background()

	tests := []struct {
		name      string
		score     float64
		wantMatch bool
	}{
		{"BelowThreshold", 0.7, false},
		{"AtThreshold", 0.8, true},
		{"AboveThreshold", 0.95, true},
		{"NeutralDefault", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := testContext(&domain.Transaction{ID: "tx-1", AccountID: "acc-1", Amount: 100, Currency: "USD", Type: "wire_transfer"})
			tc.AnomalyScore = tt.score

			res := rule.Evaluate(ctx, tc)
			if res.Matched != tt.wantMatch {
				t.Errorf("Matched = %v, want %v (%s)", res.Matched, tt.wantMatch, res.Reason)
			}
			if tt.wantMatch && res.Score != tt.score {
				t.Errorf("expected passthrough score %v, got %v", tt.score, res.Score)
			}
		})
	}

	t.Run("ThresholdOutOfRange", func(t *testing.T) {
		_, err := factory(&domain.RuleDefinition{
			ID:     "an-bad",
			Type:   TypeAnomaly,
			Params: domain.ParameterSet{"score_threshold": 1.5},
		})
		if err == nil {
			t.Error("expected validation error for threshold above 1")
		}
	})
}

func TestExpressionRule(t *testing.T) {
	factory, err := NewExpressionFactory()
	if err != nil {
		t.Fatalf("failed to create expression factory: %v", err)
	}

	ctx := context.Background()

	t.Run("BoolExpression", func(t *testing.T) {
		rule, err := factory(&domain.RuleDefinition{
			ID:     "expr-1",
			Type:   TypeExpression,
			Params: domain.ParameterSet{"expression": `amount > 5000.0 && currency == "USD"`},
		})
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}

		matched := rule.Evaluate(ctx, testContext(&domain.Transaction{ID: "tx-1", AccountID: "a", Amount: 7500, Currency: "USD", Type: "wire_transfer"}))
		if !matched.Matched || matched.Score != 1.0 {
			t.Errorf("expected match with score 1.0, got %+v", matched)
		}

		missed := rule.Evaluate(ctx, testContext(&domain.Transaction{ID: "tx-2", AccountID: "a", Amount: 100, Currency: "USD", Type: "wire_transfer"}))
		if missed.Matched {
			t.Errorf("expected no match, got %+v", missed)
		}
	})

	t.Run("NumericExpression", func(t *testing.T) {
		rule, err := factory(&domain.RuleDefinition{
			ID:     "expr-2",
			Type:   TypeExpression,
			Params: domain.ParameterSet{"expression": `amount > 1000.0 ? 0.7 : 0.0`},
		})
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}

		res := rule.Evaluate(ctx, testContext(&domain.Transaction{ID: "tx-1", AccountID: "a", Amount: 2000, Currency: "USD", Type: "wire_transfer"}))
		if !res.Matched || res.Score != 0.7 {
			t.Errorf("expected match with score 0.7, got %+v", res)
		}
	})

	t.Run("ContextVariables", func(t *testing.T) {
		rule, err := factory(&domain.RuleDefinition{
			ID:     "expr-3",
			Type:   TypeExpression,
			Params: domain.ParameterSet{"expression": `recent_count > 5 && anomaly_score > 0.5`},
		})
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}

		tc := testContext(&domain.Transaction{ID: "tx-1", AccountID: "a", Amount: 100, Currency: "USD", Type: "wire_transfer"})
		tc.RecentCount = 8
		tc.AnomalyScore = 0.9

		res := rule.Evaluate(ctx, tc)
		if !res.Matched {
			t.Errorf("expected match, got %+v", res)
		}
	})

	t.Run("CompileErrorRejectedAtInstantiation", func(t *testing.T) {
		_, err := factory(&domain.RuleDefinition{
			ID:     "expr-bad",
			Type:   TypeExpression,
			Params: domain.ParameterSet{"expression": `amount >>> oops`},
		})
		if err == nil {
			t.Error("expected validation error for broken expression")
		}
	})

	t.Run("NonNumericResultRejected", func(t *testing.T) {
		_, err := factory(&domain.RuleDefinition{
			ID:     "expr-str",
			Type:   TypeExpression,
			Params: domain.ParameterSet{"expression": `currency`},
		})
		if err == nil {
			t.Error("expected validation error for string-typed expression")
		}
	})

	t.Run("MissingExpression", func(t *testing.T) {
		_, err := factory(&domain.RuleDefinition{ID: "expr-empty", Type: TypeExpression})
		if err == nil {
			t.Error("expected validation error for missing expression")
		}
	})
}
