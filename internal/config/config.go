// Package config loads the process configuration from the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/diarai/diar-crm-client/pkg/cache"
	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/logging"
	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

var validate = validator.New()

type Config struct {
	API     APIConfig
	Cache   CacheConfig
	Log     LogConfig
	Server  ServerConfig
	Monitor MonitorConfig
}

// APIConfig locates the CRM backend and tunes the request client.
type APIConfig struct {
	URL string `env:"CRM_API_URL, default=http://localhost:3001" validate:"required,url"`

	// Token is the bearer token sent to the backend. Requests fail as
	// unauthenticated while it is empty.
	Token string `env:"CRM_API_TOKEN"`

	RequestTimeout time.Duration `env:"CRM_REQUEST_TIMEOUT, default=30s" validate:"gt=0"`
	MaxRetries     int           `env:"CRM_MAX_RETRIES, default=3" validate:"gte=0,lte=10"`
	RetryBaseDelay time.Duration `env:"CRM_RETRY_BASE_DELAY, default=1s" validate:"gte=0"`
}

// CacheConfig specifies cache configuration.
type CacheConfig struct {
	// Type selects the store: "memory" (default), "file" or "redis".
	Type string `env:"CACHE_TYPE, default=memory" validate:"oneof=memory file redis"`

	TTL      time.Duration `env:"CACHE_TTL, default=5m" validate:"gt=0"`
	MaxStale time.Duration `env:"CACHE_MAX_STALE, default=24h" validate:"gte=0"`
	Prefix   string        `env:"CACHE_PREFIX, default=diarai_cache_" validate:"required"`

	// Dir is the file store directory. Required when Type is "file".
	Dir string `env:"CACHE_DIR" validate:"required_if=Type file"`

	// MaxEntryBytes caps each entry. 0 selects the default, -1 disables the cap.
	MaxEntryBytes int `env:"CACHE_MAX_ENTRY_BYTES, default=5242880" validate:"gte=-1"`
	MemorySize    int `env:"CACHE_MEMORY_SIZE, default=1000" validate:"gt=0"`

	// RedisAddr is the Redis server (host:port). Required when Type is "redis".
	RedisAddr string `env:"REDIS_ADDR" validate:"required_if=Type redis"`
	RedisDB   int    `env:"REDIS_DB, default=0" validate:"gte=0,lte=15"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL, default=info" validate:"oneof=debug info warn warning error"`
	Pretty bool   `env:"LOG_PRETTY, default=false"`
}

type ServerConfig struct {
	Port            int           `env:"SERVER_PORT, default=8080" validate:"gt=0,lte=65535"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT, default=25s" validate:"gt=0"`
}

type MonitorConfig struct {
	Interval time.Duration `env:"MONITOR_INTERVAL, default=30s" validate:"gt=0"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ClientConfig returns the request client configuration.
func (c APIConfig) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.URL, client.StaticToken(c.Token))
	cfg.Timeout = c.RequestTimeout
	cfg.Retry.MaxRetries = c.MaxRetries
	cfg.Retry.BaseDelay = c.RetryBaseDelay
	return cfg
}

// StoreConfig returns the store selection. Redis keeps keys for TTL+MaxStale.
func (c CacheConfig) StoreConfig() cache.StoreConfig {
	return cache.StoreConfig{
		Type:          c.Type,
		MaxEntryBytes: c.MaxEntryBytes,
		MemorySize:    c.MemorySize,
		Dir:           c.Dir,
		RedisAddr:     c.RedisAddr,
		RedisDB:       c.RedisDB,
		Retention:     c.TTL + c.MaxStale,
	}
}

// ManagerOptions returns the cache manager options.
func (c CacheConfig) ManagerOptions() cache.Options {
	opts := cache.DefaultOptions()
	opts.TTL = c.TTL
	opts.MaxStale = c.MaxStale
	opts.Prefix = c.Prefix
	return opts
}

// LoggingConfig returns the logger configuration, writing to stderr.
func (c LogConfig) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Level),
		Pretty: c.Pretty,
		Output: os.Stderr,
	}
}
