// Package scheduler orchestrates the parallel evaluation of all active rules
// for one transaction: bounded fan-out, per-rule timeouts, a global batch
// deadline, and a deterministic ordered result set.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kestrelhq/kestrel/internal/cache"
	"github.com/kestrelhq/kestrel/internal/domain"
	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/rules"
)

// Scheduler fans a transaction out to the active rules concurrently and
// collects the complete batch before scoring. No partial or streaming
// scoring: the composite must be reproducible for a given rule-set snapshot.
type Scheduler struct {
	cache   *cache.EvaluationCache
	metrics *metrics.Collector

	maxWorkers  int
	ruleTimeout time.Duration
	deadline    time.Duration
}

// BatchStats summarizes one batch for evaluation metadata.
type BatchStats struct {
	CacheHits int
	Timeouts  int
	Failures  int
}

// New creates a scheduler. The cache may be nil, in which case every rule
// evaluates directly. The metrics collector may be nil.
func New(evalCache *cache.EvaluationCache, collector *metrics.Collector, cfg domain.EngineConfig) *Scheduler {
	maxWorkers := cfg.MaxRuleWorkers
	if maxWorkers <= 0 {
		maxWorkers = 16
	}
	ruleTimeout := cfg.RuleTimeout
	if ruleTimeout <= 0 {
		ruleTimeout = 500 * time.Millisecond
	}
	deadline := cfg.EvalDeadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	return &Scheduler{
		cache:       evalCache,
		metrics:     collector,
		maxWorkers:  maxWorkers,
		ruleTimeout: ruleTimeout,
		deadline:    deadline,
	}
}

// Evaluate runs every rule in active against the context and returns one
// result per rule, sorted by rule ID regardless of completion order. Rules
// that exceed their timeout, or that are still outstanding when the batch
// deadline elapses, yield timed-out results contributing zero score.
func (s *Scheduler) Evaluate(ctx context.Context, tc *domain.TransactionContext, active []rules.Rule) ([]domain.RuleResult, BatchStats) {
	if len(active) == 0 {
		return nil, BatchStats{}
	}

	bctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	results := make([]domain.RuleResult, len(active))
	hits := make([]bool, len(active))
	done := make(chan int, len(active))

	sem := make(chan struct{}, s.maxWorkers)
	for i, rule := range active {
		go func(idx int, r rules.Rule) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-bctx.Done():
				results[idx] = timeoutResult(r)
				done <- idx
				return
			}
			results[idx], hits[idx] = s.runRule(bctx, r, tc)
			done <- idx
		}(i, rule)
	}

	for range active {
		<-done
	}

	var stats BatchStats
	for i := range results {
		normalize(&results[i], active[i])
		if hits[i] {
			stats.CacheHits++
		}
		if results[i].TimedOut {
			stats.Timeouts++
		} else if results[i].Failed() {
			stats.Failures++
		}
		s.observe(&results[i], hits[i])
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].RuleID < results[j].RuleID
	})

	return results, stats
}

// runRule resolves one rule's result through the cache, racing the lookup
// against the batch deadline. A deadline hit abandons the wait but not the
// computation: a single-flight computation keeps running for other waiters
// and still populates the cache.
func (s *Scheduler) runRule(bctx context.Context, r rules.Rule, tc *domain.TransactionContext) (domain.RuleResult, bool) {
	type outcome struct {
		res domain.RuleResult
		hit bool
	}
	ch := make(chan outcome, 1)

	go func() {
		if s.cache == nil {
			ch <- outcome{res: s.evaluateRule(bctx, r, tc)}
			return
		}
		key := cache.Key(tc.Tx.Fingerprint(), r.ID(), r.Definition().Params.Hash())
		res, hit := s.cache.GetOrCompute(bctx, key, func(cctx context.Context) domain.RuleResult {
			return s.evaluateRule(cctx, r, tc)
		})
		ch <- outcome{res: res, hit: hit}
	}()

	select {
	case out := <-ch:
		return out.res, out.hit
	case <-bctx.Done():
		return timeoutResult(r), false
	}
}

// evaluateRule executes one rule under its own timeout. A rule that panics
// is converted to an error result; one rule's failure never aborts the
// batch.
func (s *Scheduler) evaluateRule(ctx context.Context, r rules.Rule, tc *domain.TransactionContext) domain.RuleResult {
	rctx, cancel := context.WithTimeout(ctx, s.ruleTimeout)
	defer cancel()

	ch := make(chan domain.RuleResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- domain.RuleResult{
					RuleID: r.ID(),
					Err:    fmt.Sprintf("rule panicked: %v", rec),
				}
			}
		}()
		ch <- r.Evaluate(rctx, tc)
	}()

	select {
	case res := <-ch:
		return res
	case <-rctx.Done():
		return timeoutResult(r)
	}
}

func timeoutResult(r rules.Rule) domain.RuleResult {
	return domain.RuleResult{
		RuleID:   r.ID(),
		Weight:   r.Definition().Weight,
		Err:      "evaluation timed out",
		TimedOut: true,
	}
}

// normalize pins identity fields and the score invariant on a result
// regardless of where it came from (fresh evaluation, cache hit, join
// cancellation).
func normalize(res *domain.RuleResult, r rules.Rule) {
	res.RuleID = r.ID()
	res.Weight = r.Definition().Weight
	if res.Failed() {
		res.Matched = false
		res.Score = 0
	}
	if res.Score < 0 {
		res.Score = 0
	}
	if res.Score > 1 {
		res.Score = 1
	}
}

func (s *Scheduler) observe(res *domain.RuleResult, hit bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRuleResult(res, hit)
}
