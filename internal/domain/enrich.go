package domain

import (
	"context"
	"time"
)

// AccountHistoryProvider supplies the account activity summary the enricher
// derives dormancy and velocity fields from. Implementations may hit a
// database or a remote service; callers bound every query with a timeout.
type AccountHistoryProvider interface {
	FetchAccountHistory(ctx context.Context, accountID string, at time.Time) (*AccountHistory, error)
}

// AnomalyScoreProvider returns the ML subsystem's anomaly score in [0,1] for
// a transaction. The engine consumes the score as one rule-like input; it
// never trains or serves the model.
type AnomalyScoreProvider interface {
	FetchAnomalyScore(ctx context.Context, tx *Transaction) (float64, error)
}
