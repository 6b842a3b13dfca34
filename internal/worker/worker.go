// Package worker provides async transaction processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
	"github.com/kestrelhq/kestrel/internal/engine"
)

// Worker consumes ingested transactions from the EventBus and runs them
// through the evaluation pipeline.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// TransactionMessage is the ingestion message payload. It mirrors the
// transaction shape accepted by the HTTP evaluate endpoint.
type TransactionMessage struct {
	TxID         string         `json:"txId"`
	AccountID    string         `json:"accountId"`
	Amount       float64        `json:"amount"`
	Currency     string         `json:"currency"`
	Timestamp    time.Time      `json:"timestamp"`
	Type         string         `json:"type"`
	Counterparty string         `json:"counterparty,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// handleMessage evaluates one ingested transaction.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	ts := txMsg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	tx := &domain.Transaction{
		ID:           txMsg.TxID,
		AccountID:    txMsg.AccountID,
		Amount:       txMsg.Amount,
		Currency:     txMsg.Currency,
		Timestamp:    ts,
		Type:         txMsg.Type,
		Counterparty: txMsg.Counterparty,
		CreatedAt:    time.Now().UTC(),
		Metadata:     txMsg.Metadata,
	}

	eval, alert, err := w.engine.EvaluateTransaction(ctx, tx)
	if err != nil {
		slog.Error("async evaluation failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("async transaction processed",
		"tx_id", tx.ID,
		"eval_id", eval.ID,
		"tier", eval.Tier,
		"alerted", alert != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
