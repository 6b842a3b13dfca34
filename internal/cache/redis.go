package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// RedisStore implements EntryStore on Redis, sharing cached rule results
// across engine nodes. Backend errors surface to the evaluation cache, which
// degrades to direct evaluation instead of failing the transaction.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed entry store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get retrieves a cached result, nil on miss.
func (s *RedisStore) Get(ctx context.Context, key string) (*domain.RuleResult, error) {
	data, err := s.client.Get(ctx, s.makeKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}

	var res domain.RuleResult
	if err := json.Unmarshal(data, &res); err != nil {
		// Treat a corrupt entry as a miss; the next Set overwrites it.
		return nil, nil
	}
	return &res, nil
}

// Set stores a result with TTL.
func (s *RedisStore) Set(ctx context.Context, key string, res *domain.RuleResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.makeKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) makeKey(key string) string {
	return "kestrel:eval:" + key
}
