package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/febrile-severity-server/internal/domain"
)

const redisKeyPrefix = "febrile:jwks:"

// RedisStore shares fetched key sets between replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the configured Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg domain.CacheConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeySetTTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get returns the shared key set for url, or nil when absent.
func (s *RedisStore) Get(ctx context.Context, url string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores the key set for url with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, url string, data []byte) error {
	return s.client.Set(ctx, redisKeyPrefix+url, data, s.ttl).Err()
}

// Delete removes the key set for url.
func (s *RedisStore) Delete(ctx context.Context, url string) error {
	return s.client.Del(ctx, redisKeyPrefix+url).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
