package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// EvaluationCache memoizes rule results with a single-flight discipline: at
// most one computation per key runs system-wide, concurrent requesters join
// the in-flight computation, and entries expire on TTL (a shorter TTL for
// failed results so a persistently failing rule is retried without
// hot-looping).
type EvaluationCache struct {
	store    EntryStore
	ttl      time.Duration
	errorTTL time.Duration

	mu       sync.Mutex
	inflight map[string]*call
}

// call is the shared handle all waiters of one in-flight computation join.
type call struct {
	done   chan struct{}
	result domain.RuleResult
}

// New builds an evaluation cache from configuration.
func New(cfg domain.CacheConfig) (*EvaluationCache, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(store, cfg.TTL, cfg.ErrorTTL), nil
}

// NewWithStore wraps an existing entry store.
func NewWithStore(store EntryStore, ttl, errorTTL time.Duration) *EvaluationCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if errorTTL <= 0 || errorTTL > ttl {
		errorTTL = ttl / 10
	}
	return &EvaluationCache{
		store:    store,
		ttl:      ttl,
		errorTTL: errorTTL,
		inflight: make(map[string]*call),
	}
}

// GetOrCompute returns the cached result for key, or runs compute exactly
// once across all concurrent callers and caches its outcome. The second
// return value reports whether the caller was served without running compute
// itself (a store hit or an in-flight join).
//
// The computation runs on a context detached from the caller's cancellation:
// a cancelled caller must not kill the computation for other waiters. Each
// caller that is cancelled while waiting gets a timed-out result of its own;
// the computation still completes and populates the cache.
//
// A store backend error is not fatal: the engine degrades to direct
// evaluation for that call, which is the one place a sub-component is
// bypassed wholesale.
func (c *EvaluationCache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) domain.RuleResult) (domain.RuleResult, bool) {
	if cached, err := c.store.Get(ctx, key); err != nil {
		slog.Warn("evaluation cache unavailable, computing directly", "error", err)
		return compute(ctx), false
	} else if cached != nil {
		return *cached, true
	}

	c.mu.Lock()
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.result, true
		case <-ctx.Done():
			return domain.RuleResult{
				Err:      "cancelled while waiting for in-flight evaluation",
				TimedOut: true,
			}, false
		}
	}

	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.result = compute(context.WithoutCancel(ctx))

	ttl := c.ttl
	if cl.result.Failed() {
		ttl = c.errorTTL
	}
	if err := c.store.Set(context.WithoutCancel(ctx), key, &cl.result, ttl); err != nil {
		slog.Warn("failed to cache evaluation result", "key", key, "error", err)
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(cl.done)

	return cl.result, false
}

// Ping checks the backend store.
func (c *EvaluationCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the backend store.
func (c *EvaluationCache) Close() error {
	return c.store.Close()
}
