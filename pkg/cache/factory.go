package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store types accepted by NewStoreFromConfig.
const (
	StoreTypeMemory = "memory"
	StoreTypeFile   = "file"
	StoreTypeRedis  = "redis"
)

// StoreConfig selects and configures a Store.
type StoreConfig struct {
	Type          string
	MaxEntryBytes int

	// MemorySize bounds the memory store.
	MemorySize int

	// Dir is the file store directory.
	Dir string

	// RedisAddr and RedisDB locate the Redis server.
	RedisAddr string
	RedisDB   int

	// Retention is how long Redis keeps a key, normally TTL+MaxStale.
	Retention time.Duration
}

// NewStoreFromConfig builds the store named by cfg.Type. A Redis store is
// pinged before it is returned.
func NewStoreFromConfig(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeMemory:
		return NewMemoryStore(MemoryStoreOptions{
			MaximumSize:   cfg.MemorySize,
			MaxEntryBytes: cfg.MaxEntryBytes,
		}), nil

	case StoreTypeFile:
		return NewFileStore(cfg.Dir, cfg.MaxEntryBytes)

	case StoreTypeRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(redisClient, RedisStoreOptions{
			Expiration:    cfg.Retention,
			MaxEntryBytes: cfg.MaxEntryBytes,
		}), nil

	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}
