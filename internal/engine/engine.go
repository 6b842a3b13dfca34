// Package engine wires enrichment, scheduling, scoring, and alerting into
// the evaluation pipeline for a single transaction.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelhq/kestrel/internal/alerting"
	"github.com/kestrelhq/kestrel/internal/domain"
	"github.com/kestrelhq/kestrel/internal/enrich"
	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/rules"
	"github.com/kestrelhq/kestrel/internal/scheduler"
	"github.com/kestrelhq/kestrel/internal/scoring"
)

// Version is stamped into evaluation metadata so stored results can be
// traced back to the engine that produced them.
const Version = "1.0.0"

// Engine evaluates transactions against the active rule set and drives the
// downstream scoring and alerting steps.
type Engine struct {
	repo      domain.Repository
	bus       domain.EventBus
	registry  *rules.Registry
	enricher  *enrich.Enricher
	scheduler *scheduler.Scheduler
	scorer    *scoring.Scorer
	workflow  *alerting.Workflow
	collector *metrics.Collector

	cutoffTier string

	// Bounds transactions in flight across all callers. Extra callers
	// block until a slot frees or their context is done.
	slots chan struct{}
}

// New assembles the evaluation pipeline.
func New(
	repo domain.Repository,
	bus domain.EventBus,
	registry *rules.Registry,
	enricher *enrich.Enricher,
	sched *scheduler.Scheduler,
	scorer *scoring.Scorer,
	workflow *alerting.Workflow,
	collector *metrics.Collector,
	cfg domain.EngineConfig,
	alertCfg domain.AlertingConfig,
) *Engine {
	maxTx := cfg.MaxConcurrentTransactions
	if maxTx <= 0 {
		maxTx = 64
	}
	return &Engine{
		repo:       repo,
		bus:        bus,
		registry:   registry,
		enricher:   enricher,
		scheduler:  sched,
		scorer:     scorer,
		workflow:   workflow,
		collector:  collector,
		cutoffTier: alertCfg.CutoffTier,
		slots:      make(chan struct{}, maxTx),
	}
}

// EvaluateTransaction runs the full pipeline for one transaction: enrich,
// evaluate the applicable rules, score, persist, and open an alert when the
// composite tier meets the cutoff. The returned alert is nil when no alert
// was opened.
func (e *Engine) EvaluateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Evaluation, *domain.Alert, error) {
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("waiting for evaluation slot: %w", ctx.Err())
	}

	start := time.Now()

	if err := e.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("saving transaction: %w", err)
	}

	enrichStart := time.Now()
	tc := e.enricher.Enrich(ctx, tx)
	enrichMs := time.Since(enrichStart).Milliseconds()

	snapshot := e.registry.Snapshot()
	active := snapshot.ActiveRules(tx.Type)

	rulesStart := time.Now()
	results, stats := e.scheduler.Evaluate(ctx, tc, active)
	rulesMs := time.Since(rulesStart).Milliseconds()

	score := e.scorer.Score(tx.ID, results)

	eval := &domain.Evaluation{
		ID:          uuid.New().String(),
		TxID:        tx.ID,
		Score:       score.Total,
		Tier:        score.Tier,
		Timestamp:   time.Now().UTC(),
		RuleResults: results,
		Metadata: domain.EvaluationMetadata{
			TraceID:        traceID(ctx),
			EnrichMs:       enrichMs,
			RulesMs:        rulesMs,
			TotalMs:        time.Since(start).Milliseconds(),
			RulesEvaluated: len(results),
			CacheHits:      stats.CacheHits,
			Timeouts:       stats.Timeouts,
			Degraded:       tc.Degraded,
			EngineVersion:  Version,
		},
	}

	if err := e.repo.SaveEvaluation(ctx, eval); err != nil {
		return nil, nil, fmt.Errorf("saving evaluation: %w", err)
	}

	var alert *domain.Alert
	if e.scorer.MeetsCutoff(score.Tier, e.cutoffTier) {
		a, err := e.workflow.Open(ctx, &score)
		if err != nil {
			slog.Error("failed to open alert",
				"tx_id", tx.ID,
				"tier", score.Tier,
				"error", err)
		} else {
			alert = a
			e.collector.RecordAlert()
		}
	}

	e.publishCompleted(ctx, eval)
	e.collector.RecordEvaluation(time.Since(start), score.Total, tc.Degraded)

	slog.Info("transaction evaluated",
		"tx_id", tx.ID,
		"rules", len(results),
		"score", score.Total,
		"tier", score.Tier,
		"cache_hits", stats.CacheHits,
		"timeouts", stats.Timeouts,
		"degraded", tc.Degraded,
		"duration_ms", eval.Metadata.TotalMs)

	return eval, alert, nil
}

// ReloadDefinitions loads rule definitions from the repository and swaps the
// registry's active snapshot. An invalid definition rejects the whole reload
// and the previous snapshot stays in effect.
func (e *Engine) ReloadDefinitions(ctx context.Context) (int, error) {
	defs, err := e.repo.ListRuleDefinitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing rule definitions: %w", err)
	}
	if err := e.registry.Reload(defs); err != nil {
		return 0, err
	}
	n := e.registry.Snapshot().Len()
	slog.Info("rule definitions reloaded", "active", n, "loaded", len(defs))
	return n, nil
}

// Registry exposes the rule registry for the API layer.
func (e *Engine) Registry() *rules.Registry {
	return e.registry
}

func (e *Engine) publishCompleted(ctx context.Context, eval *domain.Evaluation) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(eval)
	if err != nil {
		slog.Error("failed to marshal evaluation event", "eval_id", eval.ID, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicEvaluationCompleted, payload); err != nil {
		slog.Warn("failed to publish evaluation event", "eval_id", eval.ID, "error", err)
	}
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
