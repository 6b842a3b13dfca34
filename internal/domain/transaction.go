// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Transaction represents an incoming transaction to be evaluated.
// Transactions are produced upstream and are read-only to the engine.
type Transaction struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	Timestamp    time.Time `json:"timestamp"`
	Type         string    `json:"type"`
	Counterparty string    `json:"counterparty"`
	CreatedAt    time.Time `json:"createdAt"`

	// Optional metadata passed through to rules (e.g. channel, branch)
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Fingerprint returns a stable hash of the transaction's identity-relevant
// fields. It is used as one component of evaluation cache keys, so a retried
// ingestion of the same transaction hits the cache.
func (t *Transaction) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.2f|%s|%d|%s|%s",
		t.ID, t.AccountID, t.Amount, t.Currency,
		t.Timestamp.UTC().UnixNano(), t.Type, t.Counterparty,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// AccountHistory summarizes an account's past activity. It is assembled by an
// AccountHistoryProvider and consumed by the context enricher.
type AccountHistory struct {
	AccountID    string    `json:"accountId"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastActivity time.Time `json:"lastActivity"`

	// Activity in the recent window (ending at evaluation time)
	RecentCount int64   `json:"recentCount"`
	RecentTotal float64 `json:"recentTotal"`

	// Activity in the prior window (preceding the recent window)
	PriorCount int64   `json:"priorCount"`
	PriorTotal float64 `json:"priorTotal"`
}

// TransactionContext is a Transaction plus the derived fields rules evaluate
// against. It is built fresh per evaluation and owned exclusively by the
// evaluation call that created it; it is never cached across transactions.
type TransactionContext struct {
	Tx *Transaction

	AccountAgeDays   int     `json:"accountAgeDays"`
	InactiveDays     int     `json:"inactiveDays"`
	RecentCount      int64   `json:"recentCount"`
	RecentTotal      float64 `json:"recentTotal"`
	PriorCount       int64   `json:"priorCount"`
	PriorTotal       float64 `json:"priorTotal"`
	AnomalyScore     float64 `json:"anomalyScore"`

	// Degraded is set when one or more enrichment sources timed out or
	// failed and a neutral default was substituted.
	Degraded        bool     `json:"degraded"`
	DegradedSources []string `json:"degradedSources,omitempty"`
}
