package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Workers.PoolSize)
	assert.Positive(t, cfg.Timeouts.RunTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONVEY_HTTP_PORT", "8181")
	t.Setenv("WORKER_POOL_SIZE", "12")
	t.Setenv("DISPATCH_MAX_TRANSIENT_RETRIES", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, 12, cfg.Workers.PoolSize)
	assert.Equal(t, 9, cfg.Dispatcher.MaxTransientRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad http port", func(c *Config) { c.HTTPPort = 0 }},
		{"bad grpc port", func(c *Config) { c.GRPCPort = 70000 }},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"zero workers", func(c *Config) { c.Workers.PoolSize = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"inverted poll intervals", func(c *Config) {
			c.Dispatcher.InitialPollInterval = 10
			c.Dispatcher.MaxPollInterval = 5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
