// Package enrich assembles the TransactionContext rules evaluate against:
// account history aggregates and the ML anomaly score, fetched from external
// providers under bounded timeouts.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// Enricher builds a fresh TransactionContext per evaluation. Every external
// query is bounded by a timeout; on timeout or error the enricher substitutes
// a documented neutral default (empty history, anomaly score 0), marks the
// context degraded, and never fails the pipeline.
type Enricher struct {
	history domain.AccountHistoryProvider
	anomaly domain.AnomalyScoreProvider

	queryTimeout time.Duration
}

// New creates an enricher. Either provider may be nil, in which case its
// fields stay at the neutral default without counting as degradation.
func New(history domain.AccountHistoryProvider, anomaly domain.AnomalyScoreProvider, queryTimeout time.Duration) *Enricher {
	if queryTimeout <= 0 {
		queryTimeout = 300 * time.Millisecond
	}
	return &Enricher{
		history:      history,
		anomaly:      anomaly,
		queryTimeout: queryTimeout,
	}
}

// Enrich assembles the context for one transaction. The returned context is
// owned exclusively by the caller's evaluation and is never cached across
// transactions.
func (e *Enricher) Enrich(ctx context.Context, tx *domain.Transaction) *domain.TransactionContext {
	tc := &domain.TransactionContext{Tx: tx}

	if e.history != nil {
		e.enrichHistory(ctx, tc)
	}
	if e.anomaly != nil {
		e.enrichAnomaly(ctx, tc)
	}

	return tc
}

func (e *Enricher) enrichHistory(ctx context.Context, tc *domain.TransactionContext) {
	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	hist, err := e.history.FetchAccountHistory(qctx, tc.Tx.AccountID, tc.Tx.Timestamp)
	if err != nil {
		slog.Warn("account history enrichment degraded",
			"account_id", tc.Tx.AccountID,
			"error", err,
		)
		tc.Degraded = true
		tc.DegradedSources = append(tc.DegradedSources, "account_history")
		return
	}

	at := tc.Tx.Timestamp
	if !hist.FirstSeen.IsZero() && hist.FirstSeen.Before(at) {
		tc.AccountAgeDays = int(at.Sub(hist.FirstSeen).Hours() / 24)
	}
	if !hist.LastActivity.IsZero() && hist.LastActivity.Before(at) {
		tc.InactiveDays = int(at.Sub(hist.LastActivity).Hours() / 24)
	}
	tc.RecentCount = hist.RecentCount
	tc.RecentTotal = hist.RecentTotal
	tc.PriorCount = hist.PriorCount
	tc.PriorTotal = hist.PriorTotal
}

func (e *Enricher) enrichAnomaly(ctx context.Context, tc *domain.TransactionContext) {
	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	score, err := e.anomaly.FetchAnomalyScore(qctx, tc.Tx)
	if err != nil {
		slog.Warn("anomaly score enrichment degraded",
			"tx_id", tc.Tx.ID,
			"error", err,
		)
		tc.Degraded = true
		tc.DegradedSources = append(tc.DegradedSources, "anomaly_score")
		return
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	tc.AnomalyScore = score
}
