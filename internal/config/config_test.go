package config

import (
	"context"
	"testing"
	"time"

	"github.com/diarai/diar-crm-client/pkg/cache"
	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/logging"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, APIConfig{
		URL:            "http://localhost:3001",
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
	}, cfg.API)

	assert.Equal(t, CacheConfig{
		Type:          "memory",
		TTL:           5 * time.Minute,
		MaxStale:      24 * time.Hour,
		Prefix:        "diarai_cache_",
		MaxEntryBytes: 5 << 20,
		MemorySize:    1000,
	}, cfg.Cache)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CRM_API_URL", "https://crm.example.com")
	t.Setenv("CRM_API_TOKEN", "secret")
	t.Setenv("CRM_MAX_RETRIES", "5")
	t.Setenv("CACHE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CACHE_MAX_STALE", "0s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://crm.example.com", cfg.API.URL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 5, cfg.API.MaxRetries)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Zero(t, cfg.Cache.MaxStale)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "unknown cache type", env: map[string]string{"CACHE_TYPE": "localstorage"}, field: "Type"},
		{name: "redis without address", env: map[string]string{"CACHE_TYPE": "redis"}, field: "RedisAddr"},
		{name: "file without directory", env: map[string]string{"CACHE_TYPE": "file"}, field: "Dir"},
		{name: "negative retries", env: map[string]string{"CRM_MAX_RETRIES": "-1"}, field: "MaxRetries"},
		{name: "zero ttl", env: map[string]string{"CACHE_TTL": "0s"}, field: "TTL"},
		{name: "bad url", env: map[string]string{"CRM_API_URL": "not a url"}, field: "URL"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "verbose"}, field: "Level"},
		{name: "entry limit below -1", env: map[string]string{"CACHE_MAX_ENTRY_BYTES": "-2"}, field: "MaxEntryBytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(context.Background(), envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.ErrorContains(t, err, "invalid configuration")
			assert.ErrorContains(t, err, tt.field)
		})
	}
}

func TestLoad_UnlimitedEntries(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"CACHE_MAX_ENTRY_BYTES": "-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Cache.StoreConfig().MaxEntryBytes)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"CACHE_TTL": "five minutes",
	}))
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"CRM_API_TOKEN":        "secret",
		"CRM_RETRY_BASE_DELAY": "250ms",
		"CACHE_TYPE":           "file",
		"CACHE_DIR":            "/var/cache/crm",
		"CACHE_TTL":            "1m",
		"CACHE_MAX_STALE":      "1h",
		"LOG_PRETTY":           "true",
	}))
	require.NoError(t, err)

	clientCfg := cfg.API.ClientConfig()
	assert.Equal(t, "http://localhost:3001", clientCfg.BaseURL)
	assert.Equal(t, client.StaticToken("secret"), clientCfg.Tokens)
	assert.Equal(t, 250*time.Millisecond, clientCfg.Retry.BaseDelay)
	assert.Equal(t, client.DefaultRetryableStatusCodes, clientCfg.Retry.RetryableStatusCodes)

	storeCfg := cfg.Cache.StoreConfig()
	assert.Equal(t, cache.StoreTypeFile, storeCfg.Type)
	assert.Equal(t, "/var/cache/crm", storeCfg.Dir)
	assert.Equal(t, time.Hour+time.Minute, storeCfg.Retention)

	opts := cfg.Cache.ManagerOptions()
	assert.Equal(t, time.Minute, opts.TTL)
	assert.Equal(t, time.Hour, opts.MaxStale)
	assert.Equal(t, "diarai_cache_", opts.Prefix)

	logCfg := cfg.Log.LoggingConfig()
	assert.Equal(t, logging.LevelInfo, logCfg.Level)
	assert.True(t, logCfg.Pretty)
}
