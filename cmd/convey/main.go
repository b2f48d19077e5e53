package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/forksnd/convey/internal/application/dispatcher"
	"github.com/forksnd/convey/internal/application/orchestrator"
	"github.com/forksnd/convey/internal/application/workers"
	"github.com/forksnd/convey/internal/config"
	"github.com/forksnd/convey/internal/pipeline"
	redisartifacts "github.com/forksnd/convey/pkg/adapters/artifacts/redis"
	"github.com/forksnd/convey/pkg/adapters/backends"
	"github.com/forksnd/convey/pkg/adapters/backends/containerbuild"
	"github.com/forksnd/convey/pkg/adapters/backends/testgrid"
	redisevents "github.com/forksnd/convey/pkg/adapters/events/redis"
	"github.com/forksnd/convey/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/forksnd/convey/pkg/adapters/storage/redis"
	"github.com/forksnd/convey/pkg/api/grpc"
	"github.com/forksnd/convey/pkg/api/http"
	"github.com/forksnd/convey/pkg/api/websocket"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting convey",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	eventBus, err := redisevents.NewStreamsEventBus(
		redisClient,
		"convey-workers",
		fmt.Sprintf("convey-%d", os.Getpid()),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}

	runStore := redisstorage.NewRunStore(redisClient, cfg.Redis.StateTTL, logger)
	artifactStore := redisartifacts.NewArtifactStore(redisClient, cfg.Redis.StateTTL, logger)

	backendRegistry, err := backends.NewRegistry(
		containerbuild.NewClient(containerbuild.Config{
			BaseURL: cfg.Backends.ContainerBuildURL,
			Token:   cfg.Backends.ContainerBuildToken,
			Logger:  logger,
		}),
		testgrid.NewClient(testgrid.Config{
			BaseURL: cfg.Backends.TestGridURL,
			Token:   cfg.Backends.TestGridToken,
			Logger:  logger,
		}),
	)
	if err != nil {
		logger.Fatal("failed to build backend registry", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	jobDispatcher := dispatcher.New(backendRegistry, metricsCollector, logger, dispatcher.Config{
		InitialPollInterval: cfg.Dispatcher.InitialPollInterval,
		MaxPollInterval:     cfg.Dispatcher.MaxPollInterval,
		MaxTransientRetries: cfg.Dispatcher.MaxTransientRetries,
	})

	// Load pipeline declarations
	pipelines := pipeline.NewRegistry()
	if n, err := pipelines.LoadDir(cfg.PipelineDir); err != nil {
		logger.Warn("failed to load pipeline directory",
			zap.String("dir", cfg.PipelineDir),
			zap.Error(err))
	} else {
		logger.Info("pipelines loaded",
			zap.String("dir", cfg.PipelineDir),
			zap.Int("count", n))
	}

	// Initialize application components
	validator := orchestrator.NewValidator(backendRegistry)

	orchestratorMgr := orchestrator.NewManager(
		pipelines,
		eventBus,
		runStore,
		jobDispatcher,
		metricsCollector,
		validator,
		logger,
		cfg.Timeouts.RunTimeout,
	)
	if err := orchestratorMgr.Start(ctx); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		eventBus,
		runStore,
		artifactStore,
		jobDispatcher,
		metricsCollector,
		logger,
		cfg.Timeouts.StageTimeout,
		cfg.Workers.HealthCheckInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Pipelines:    pipelines,
		Artifacts:    artifactStore,
		Health:       workerPool.Health(),
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("convey started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Strings("backends", backendRegistry.Kinds()))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("convey shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
