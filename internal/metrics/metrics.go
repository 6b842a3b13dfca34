// Package metrics records the engine's observability signals: per-rule
// latency and outcomes, cache effectiveness, and the composite score
// distribution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// Collector registers and updates the engine's Prometheus metrics. A nil
// *Collector is safe to pass around; recording methods no-op.
type Collector struct {
	registry *prometheus.Registry

	evaluationsTotal  prometheus.Counter
	evaluationSeconds prometheus.Histogram
	ruleSeconds       *prometheus.HistogramVec
	ruleOutcomes      *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	ruleTimeouts      *prometheus.CounterVec
	compositeScores   prometheus.Histogram
	alertsCreated     prometheus.Counter
	degradedEnrich    prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		evaluationsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "kestrel_evaluations_total",
			Help: "Total number of transaction evaluations",
		}),
		evaluationSeconds: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_evaluation_duration_seconds",
			Help:    "Time taken to evaluate a transaction end to end",
			Buckets: prometheus.DefBuckets,
		}),
		ruleSeconds: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_rule_duration_seconds",
			Help:    "Per-rule evaluation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"rule_id"}),
		ruleOutcomes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_rule_outcomes_total",
			Help: "Rule evaluation outcomes by rule and result",
		}, []string{"rule_id", "outcome"}),
		cacheHits: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "kestrel_cache_hits_total",
			Help: "Evaluation cache hits (including single-flight joins)",
		}),
		cacheMisses: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "kestrel_cache_misses_total",
			Help: "Evaluation cache misses",
		}),
		ruleTimeouts: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_rule_timeouts_total",
			Help: "Rule evaluations that exceeded their timeout",
		}, []string{"rule_id"}),
		compositeScores: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_composite_score_distribution",
			Help:    "Distribution of composite risk scores",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		alertsCreated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "kestrel_alerts_created_total",
			Help: "Alerts opened by the workflow",
		}),
		degradedEnrich: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "kestrel_degraded_enrichments_total",
			Help: "Evaluations that ran with degraded enrichment data",
		}),
	}
}

// RecordRuleResult records one rule's latency, outcome, and cache
// effectiveness.
func (c *Collector) RecordRuleResult(res *domain.RuleResult, cacheHit bool) {
	if c == nil {
		return
	}

	c.ruleSeconds.WithLabelValues(res.RuleID).Observe(float64(res.ProcessMs) / 1000)

	outcome := "no_match"
	switch {
	case res.TimedOut:
		outcome = "timeout"
		c.ruleTimeouts.WithLabelValues(res.RuleID).Inc()
	case res.Failed():
		outcome = "error"
	case res.Matched:
		outcome = "match"
	}
	c.ruleOutcomes.WithLabelValues(res.RuleID, outcome).Inc()

	if cacheHit {
		c.cacheHits.Inc()
	} else {
		c.cacheMisses.Inc()
	}
}

// RecordEvaluation records one full transaction evaluation.
func (c *Collector) RecordEvaluation(duration time.Duration, score float64, degraded bool) {
	if c == nil {
		return
	}
	c.evaluationsTotal.Inc()
	c.evaluationSeconds.Observe(duration.Seconds())
	c.compositeScores.Observe(score)
	if degraded {
		c.degradedEnrich.Inc()
	}
}

// RecordAlert records an opened alert.
func (c *Collector) RecordAlert() {
	if c == nil {
		return
	}
	c.alertsCreated.Inc()
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
