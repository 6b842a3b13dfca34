// Package alerting turns score-breaching evaluations into persisted,
// trackable alerts and enforces the review workflow state machine.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// legalTransitions is the workflow state machine:
//
//	New -> UnderReview -> {Escalated, Closed}
//	Escalated -> {SARFiled, Closed}
//	SARFiled -> Closed
//
// Closed is terminal. Alerts are never deleted; dismissing a false positive
// is a Closed transition carrying a reason code.
var legalTransitions = map[domain.AlertState][]domain.AlertState{
	domain.AlertStateNew:         {domain.AlertStateUnderReview, domain.AlertStateClosed},
	domain.AlertStateUnderReview: {domain.AlertStateEscalated, domain.AlertStateClosed},
	domain.AlertStateEscalated:   {domain.AlertStateSARFiled, domain.AlertStateClosed},
	domain.AlertStateSARFiled:    {domain.AlertStateClosed},
	domain.AlertStateClosed:      {},
}

// CanTransition reports whether from -> to is a legal workflow step.
func CanTransition(from, to domain.AlertState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Workflow creates alerts and applies reviewer-driven transitions, enforcing
// legality and recording an immutable history entry per step.
type Workflow struct {
	repo domain.Repository
	bus  domain.EventBus
}

// NewWorkflow creates an alert workflow. The bus may be nil.
func NewWorkflow(repo domain.Repository, bus domain.EventBus) *Workflow {
	return &Workflow{repo: repo, bus: bus}
}

// Open creates a new alert for a composite score that breached the cutoff.
// The alert starts in New with a creation history entry.
func (w *Workflow) Open(ctx context.Context, score *domain.CompositeScore) (*domain.Alert, error) {
	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:        uuid.New().String(),
		TxID:      score.TxID,
		Score:     score.Total,
		Tier:      score.Tier,
		State:     domain.AlertStateNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created := domain.AlertTransition{
		To:        domain.AlertStateNew,
		Actor:     "system",
		Note:      fmt.Sprintf("composite score %.4f, tier %s", score.Total, score.Tier),
		Timestamp: now,
	}
	alert.History = append(alert.History, created)

	if err := w.repo.SaveAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}
	if err := w.repo.AppendAlertHistory(ctx, alert.ID, created); err != nil {
		return nil, fmt.Errorf("failed to append alert history: %w", err)
	}

	w.publish(ctx, domain.TopicAlertCreated, alert)

	slog.Info("alert opened",
		"alert_id", alert.ID,
		"tx_id", alert.TxID,
		"score", alert.Score,
		"tier", alert.Tier,
	)

	return alert, nil
}

// TransitionRequest carries one reviewer action against an alert.
type TransitionRequest struct {
	To    domain.AlertState `json:"to"`
	Actor string            `json:"actor"`
	Note  string            `json:"note,omitempty"`

	// Reviewer to assign when moving into UnderReview.
	Reviewer string `json:"reviewer,omitempty"`

	// Reason code required when closing (false_positive, substantiated).
	Reason string `json:"reason,omitempty"`

	// SAR filing reference recorded on the SARFiled transition.
	SARReference string `json:"sarReference,omitempty"`
}

// Transition applies a reviewer action. An illegal transition fails with an
// InvalidTransitionError and leaves the alert unchanged; a legal one mutates
// state, appends a history entry, and persists both.
func (w *Workflow) Transition(ctx context.Context, alertID string, req TransitionRequest) (*domain.Alert, error) {
	alert, err := w.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(alert.State, req.To) {
		return nil, &domain.InvalidTransitionError{
			AlertID: alert.ID,
			From:    alert.State,
			To:      req.To,
		}
	}

	now := time.Now().UTC()
	tr := domain.AlertTransition{
		From:      alert.State,
		To:        req.To,
		Actor:     req.Actor,
		Note:      req.Note,
		Timestamp: now,
	}

	alert.State = req.To
	alert.UpdatedAt = now
	alert.History = append(alert.History, tr)

	switch req.To {
	case domain.AlertStateUnderReview:
		if req.Reviewer != "" {
			alert.AssignedReviewer = req.Reviewer
		} else if req.Actor != "" {
			alert.AssignedReviewer = req.Actor
		}
	case domain.AlertStateSARFiled:
		alert.SARReference = req.SARReference
	case domain.AlertStateClosed:
		reason := req.Reason
		if reason == "" {
			reason = domain.CloseReasonSubstantiated
		}
		alert.CloseReason = reason
	}

	if err := w.repo.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	if err := w.repo.AppendAlertHistory(ctx, alert.ID, tr); err != nil {
		return nil, fmt.Errorf("failed to append alert history: %w", err)
	}

	w.publish(ctx, domain.TopicAlertTransition, alert)

	slog.Info("alert transitioned",
		"alert_id", alert.ID,
		"from", tr.From,
		"to", tr.To,
		"actor", tr.Actor,
	)

	return alert, nil
}

func (w *Workflow) publish(ctx context.Context, topic string, alert *domain.Alert) {
	if w.bus == nil {
		return
	}
	payload, _ := json.Marshal(alert)
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish alert event",
			"alert_id", alert.ID,
			"topic", topic,
			"error", err,
		)
	}
}
