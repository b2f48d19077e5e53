package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CONVEY_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"CONVEY_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// PipelineDir is scanned for pipeline declarations at startup.
	PipelineDir string `env:"CONVEY_PIPELINE_DIR" envDefault:"pipelines"`

	// Redis configuration
	Redis RedisConfig

	// External job backends
	Backends BackendConfig

	// Worker configuration
	Workers WorkerConfig

	// Dispatcher polling and retry configuration
	Dispatcher DispatcherConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// StateTTL bounds how long run state and artifacts are retained.
	StateTTL time.Duration `env:"REDIS_STATE_TTL" envDefault:"168h"`
}

// BackendConfig holds the external CI backend endpoints.
type BackendConfig struct {
	ContainerBuildURL   string `env:"CONVEY_CONTAINERBUILD_URL" envDefault:"http://localhost:8180"`
	ContainerBuildToken string `env:"CONVEY_CONTAINERBUILD_TOKEN"`
	TestGridURL         string `env:"CONVEY_TESTGRID_URL" envDefault:"http://localhost:8280"`
	TestGridToken       string `env:"CONVEY_TESTGRID_TOKEN"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// DispatcherConfig tunes external job polling and retries.
type DispatcherConfig struct {
	InitialPollInterval time.Duration `env:"DISPATCH_INITIAL_POLL_INTERVAL" envDefault:"2s"`
	MaxPollInterval     time.Duration `env:"DISPATCH_MAX_POLL_INTERVAL" envDefault:"30s"`
	MaxTransientRetries int           `env:"DISPATCH_MAX_TRANSIENT_RETRIES" envDefault:"5"`
}

// TimeoutConfig holds various timeout configurations.
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"3600s"`
	StageTimeout    time.Duration `env:"TIMEOUT_STAGE" envDefault:"1800s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Backends.ContainerBuildURL == "" {
		return fmt.Errorf("container build backend URL is required")
	}
	if c.Backends.TestGridURL == "" {
		return fmt.Errorf("test grid backend URL is required")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	if c.Dispatcher.InitialPollInterval <= 0 {
		return fmt.Errorf("initial poll interval must be positive")
	}
	if c.Dispatcher.MaxPollInterval < c.Dispatcher.InitialPollInterval {
		return fmt.Errorf("max poll interval must be at least the initial poll interval")
	}

	if c.Timeouts.RunTimeout <= 0 {
		return fmt.Errorf("run timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address.
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
