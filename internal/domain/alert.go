package domain

import (
	"time"
)

// AlertState is a stage in the alert review workflow.
type AlertState string

const (
	AlertStateNew         AlertState = "NEW"
	AlertStateUnderReview AlertState = "UNDER_REVIEW"
	AlertStateEscalated   AlertState = "ESCALATED"
	AlertStateSARFiled    AlertState = "SAR_FILED"
	AlertStateClosed      AlertState = "CLOSED"
)

// Reason codes distinguishing how an alert was closed. A dismissed false
// positive and a substantiated case both end in CLOSED but must stay
// distinguishable for reporting.
const (
	CloseReasonFalsePositive = "false_positive"
	CloseReasonSubstantiated = "substantiated"
)

// AlertTransition is one immutable entry in an alert's state history.
type AlertTransition struct {
	From      AlertState `json:"from"`
	To        AlertState `json:"to"`
	Actor     string     `json:"actor"`
	Note      string     `json:"note,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Alert is a score-breaching evaluation promoted for human review. Alerts are
// never deleted; they advance through the workflow state machine until they
// reach CLOSED.
type Alert struct {
	ID    string  `json:"id"`
	TxID  string  `json:"txId"`
	Score float64 `json:"score"`
	Tier  string  `json:"tier"`

	State            AlertState `json:"state"`
	AssignedReviewer string     `json:"assignedReviewer,omitempty"`
	SARReference     string     `json:"sarReference,omitempty"`
	CloseReason      string     `json:"closeReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	History []AlertTransition `json:"history,omitempty"`
}

// Terminal reports whether the alert has reached its final state.
func (a *Alert) Terminal() bool {
	return a.State == AlertStateClosed
}
