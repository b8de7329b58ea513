package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, for deployments where several
// processes share one cache.
type RedisStore struct {
	redis         *redis.Client
	expiration    time.Duration
	maxEntryBytes int
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	// Expiration lets Redis reap keys that are never read again. Zero keeps
	// keys until they are removed.
	Expiration time.Duration

	// MaxEntryBytes is the per-entry size limit. 0 selects
	// DefaultMaxEntryBytes, a negative value disables the limit.
	MaxEntryBytes int
}

// NewRedisStore creates a store using redisClient.
func NewRedisStore(redisClient *redis.Client, opts RedisStoreOptions) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if opts.MaxEntryBytes == 0 {
		opts.MaxEntryBytes = DefaultMaxEntryBytes
	}
	return &RedisStore{
		redis:         redisClient,
		expiration:    opts.Expiration,
		maxEntryBytes: opts.MaxEntryBytes,
	}
}

// GetItem implements Store.
func (s *RedisStore) GetItem(ctx context.Context, key string) (string, error) {
	value, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// SetItem implements Store.
func (s *RedisStore) SetItem(ctx context.Context, key, value string) error {
	if err := checkQuota(key, value, s.maxEntryBytes); err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, value, s.expiration).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// RemoveItem implements Store.
func (s *RedisStore) RemoveItem(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
