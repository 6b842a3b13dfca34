package alerting

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kestrelhq/kestrel/internal/domain"
	"github.com/kestrelhq/kestrel/internal/repository"
)

func newTestWorkflow(t *testing.T) *Workflow {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "alerts-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewWorkflow(repo, nil)
}

func openTestAlert(t *testing.T, w *Workflow) *domain.Alert {
	t.Helper()

	alert, err := w.Open(context.Background(), &domain.CompositeScore{
		TxID:  "tx-1",
		Total: 0.75,
		Tier:  domain.TierHigh,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return alert
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.AlertState
		want     bool
	}{
		{domain.AlertStateNew, domain.AlertStateUnderReview, true},
		{domain.AlertStateNew, domain.AlertStateClosed, true},
		{domain.AlertStateNew, domain.AlertStateEscalated, false},
		{domain.AlertStateNew, domain.AlertStateSARFiled, false},
		{domain.AlertStateUnderReview, domain.AlertStateEscalated, true},
		{domain.AlertStateUnderReview, domain.AlertStateClosed, true},
		{domain.AlertStateUnderReview, domain.AlertStateSARFiled, false},
		{domain.AlertStateEscalated, domain.AlertStateSARFiled, true},
		{domain.AlertStateEscalated, domain.AlertStateClosed, true},
		{domain.AlertStateEscalated, domain.AlertStateUnderReview, false},
		{domain.AlertStateSARFiled, domain.AlertStateClosed, true},
		{domain.AlertStateSARFiled, domain.AlertStateEscalated, false},
		{domain.AlertStateClosed, domain.AlertStateUnderReview, false},
		{domain.AlertStateClosed, domain.AlertStateNew, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOpen(t *testing.T) {
	w := newTestWorkflow(t)
	alert := openTestAlert(t, w)

	if alert.State != domain.AlertStateNew {
		t.Errorf("expected new alert in NEW, got %s", alert.State)
	}
	if alert.Score != 0.75 || alert.Tier != domain.TierHigh {
		t.Errorf("score/tier not carried onto alert: %+v", alert)
	}
	if len(alert.History) != 1 || alert.History[0].Actor != "system" {
		t.Errorf("expected a system creation history entry, got %+v", alert.History)
	}
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("FullEscalationPath", func(t *testing.T) {
		w := newTestWorkflow(t)
		alert := openTestAlert(t, w)

		steps := []TransitionRequest{
			{To: domain.AlertStateUnderReview, Actor: "analyst-1", Reviewer: "analyst-1"},
			{To: domain.AlertStateEscalated, Actor: "analyst-1", Note: "matches structuring pattern"},
			{To: domain.AlertStateSARFiled, Actor: "compliance-1", SARReference: "SAR-2026-0042"},
			{To: domain.AlertStateClosed, Actor: "compliance-1", Reason: domain.CloseReasonSubstantiated},
		}

		for _, step := range steps {
			var err error
			alert, err = w.Transition(ctx, alert.ID, step)
			if err != nil {
				t.Fatalf("transition to %s failed: %v", step.To, err)
			}
			if alert.State != step.To {
				t.Fatalf("expected state %s, got %s", step.To, alert.State)
			}
		}

		if alert.SARReference != "SAR-2026-0042" {
			t.Errorf("SAR reference not recorded: %q", alert.SARReference)
		}
		if alert.CloseReason != domain.CloseReasonSubstantiated {
			t.Errorf("close reason not recorded: %q", alert.CloseReason)
		}
		if !alert.Terminal() {
			t.Error("closed alert must be terminal")
		}
		// creation + 4 transitions
		if len(alert.History) != 5 {
			t.Errorf("expected 5 history entries, got %d", len(alert.History))
		}
	})

	t.Run("DismissFalsePositive", func(t *testing.T) {
		w := newTestWorkflow(t)
		alert := openTestAlert(t, w)

		alert, err := w.Transition(ctx, alert.ID, TransitionRequest{
			To:     domain.AlertStateClosed,
			Actor:  "analyst-2",
			Reason: domain.CloseReasonFalsePositive,
		})
		if err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
		if alert.CloseReason != domain.CloseReasonFalsePositive {
			t.Errorf("expected false_positive close reason, got %q", alert.CloseReason)
		}
	})

	t.Run("ActorBecomesReviewer", func(t *testing.T) {
		w := newTestWorkflow(t)
		alert := openTestAlert(t, w)

		alert, err := w.Transition(ctx, alert.ID, TransitionRequest{
			To:    domain.AlertStateUnderReview,
			Actor: "analyst-3",
		})
		if err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
		if alert.AssignedReviewer != "analyst-3" {
			t.Errorf("expected actor assigned as reviewer, got %q", alert.AssignedReviewer)
		}
	})

	t.Run("IllegalTransitionLeavesAlertUnchanged", func(t *testing.T) {
		w := newTestWorkflow(t)
		alert := openTestAlert(t, w)

		_, err := w.Transition(ctx, alert.ID, TransitionRequest{
			To:    domain.AlertStateSARFiled,
			Actor: "analyst-1",
		})

		var invErr *domain.InvalidTransitionError
		if !errors.As(err, &invErr) {
			t.Fatalf("expected InvalidTransitionError, got: %v", err)
		}
		if invErr.From != domain.AlertStateNew || invErr.To != domain.AlertStateSARFiled {
			t.Errorf("error carries wrong states: %+v", invErr)
		}

		// State and history untouched
		current, err := w.repo.GetAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if current.State != domain.AlertStateNew {
			t.Errorf("illegal transition mutated state: %s", current.State)
		}
		if len(current.History) != 1 {
			t.Errorf("illegal transition appended history: %d entries", len(current.History))
		}
	})

	t.Run("UnknownAlert", func(t *testing.T) {
		w := newTestWorkflow(t)

		_, err := w.Transition(ctx, "no-such-alert", TransitionRequest{
			To:    domain.AlertStateUnderReview,
			Actor: "analyst-1",
		})
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("DefaultCloseReason", func(t *testing.T) {
		w := newTestWorkflow(t)
		alert := openTestAlert(t, w)

		alert, err := w.Transition(ctx, alert.ID, TransitionRequest{
			To:    domain.AlertStateClosed,
			Actor: "analyst-1",
		})
		if err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
		if alert.CloseReason != domain.CloseReasonSubstantiated {
			t.Errorf("expected default close reason, got %q", alert.CloseReason)
		}
	})
}
