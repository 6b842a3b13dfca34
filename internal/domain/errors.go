package domain

import (
	"errors"
	"fmt"
)

// ErrCacheUnavailable signals that the evaluation cache backend is
// unreachable. The engine degrades to direct (uncached) evaluation rather
// than failing the transaction; this is the only place a sub-component is
// bypassed wholesale.
var ErrCacheUnavailable = errors.New("cache backend unavailable")

// ValidationError reports a malformed RuleDefinition. It is raised at
// instantiation and never reaches scheduling.
type ValidationError struct {
	RuleID string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("rule %s: invalid parameter %q: %s", e.RuleID, e.Param, e.Reason)
	}
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}

// InvalidTransitionError reports an illegal alert state change. The alert's
// state is left unchanged.
type InvalidTransitionError struct {
	AlertID string
	From    AlertState
	To      AlertState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("alert %s: illegal transition %s -> %s", e.AlertID, e.From, e.To)
}
