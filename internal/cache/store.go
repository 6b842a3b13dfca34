// Package cache provides the evaluation cache: memoized rule results keyed
// by (transaction fingerprint, rule id, parameter hash) with a single-flight
// guarantee per key.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// EntryStore is the storage backend beneath the evaluation cache. Get
// returns nil, nil on a miss; a non-nil error means the backend itself is
// unreachable and the caller degrades to direct evaluation.
type EntryStore interface {
	Get(ctx context.Context, key string) (*domain.RuleResult, error)
	Set(ctx context.Context, key string, res *domain.RuleResult, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// newStore builds an entry store from configuration.
func newStore(cfg domain.CacheConfig) (EntryStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewLRUStore(cfg.Capacity), nil
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// Key builds an evaluation cache key. The parameter hash is part of the key
// so a definition change can never serve a stale result.
func Key(fingerprint, ruleID, paramsHash string) string {
	return fingerprint + ":" + ruleID + ":" + paramsHash
}
