package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mediadash/orchestrator/internal/config"
	"github.com/mediadash/orchestrator/internal/orchestrator/dispatch"
	"github.com/mediadash/orchestrator/internal/orchestrator/notify"
	"github.com/mediadash/orchestrator/internal/orchestrator/poll"
	"github.com/mediadash/orchestrator/internal/orchestrator/storage"
	"github.com/mediadash/orchestrator/internal/orchestrator/sweep"
	"github.com/mediadash/orchestrator/internal/provider"
	"github.com/mediadash/orchestrator/internal/worker"
	"github.com/mediadash/orchestrator/shared/logger"
	"github.com/mediadash/orchestrator/shared/postgresql"
	"github.com/mediadash/orchestrator/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Build the tracking pipeline. Job events go out over the events
	// exchange so the API processes can fan them out to clients.
	store := storage.NewPostgresStore(dbClient.GetDB(), appLogger.Logger)
	registry := buildProviderRegistry(cfg, appLogger.Logger)
	notifier := notify.NewAMQPNotifier(rabbitClient, appLogger.Logger)

	poller := poll.NewPoller(&poll.Config{
		Store:           store,
		Providers:       registry,
		Kinds:           cfg.Providers.Kinds,
		Notifier:        notifier,
		ResumeBatchSize: cfg.Worker.ResumeBatchSize,
		Logger:          appLogger.Logger,
	})

	// Re-dispatched jobs hand off to the local poller directly; no broker
	// round-trip inside the worker process.
	dispatcher := dispatch.NewDispatcher(&dispatch.Config{
		Store:     store,
		Providers: registry,
		Kinds:     cfg.Providers.Kinds,
		Notifier:  notifier,
		Handoff:   worker.NewLocalHandoff(poller),
		Logger:    appLogger.Logger,
	})

	sweeper := sweep.NewSweeper(&sweep.Config{
		Store:             store,
		Redispatcher:      dispatcher,
		Notifier:          notifier,
		BatchSize:         cfg.Worker.SweepBatchSize,
		PendingStaleAfter: cfg.Worker.PendingStaleAfter,
		Logger:            appLogger.Logger,
	})

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		RabbitClient:  rabbitClient,
		Tracker:       poller,
		Sweeper:       sweeper,
		SweepInterval: cfg.Worker.SweepInterval,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		DispatchExchange:   cfg.Dispatch.Exchange,
		DispatchQueue:      cfg.Dispatch.Queue,
		DispatchRoutingKey: cfg.Dispatch.RoutingKey,
		EventsExchange:     cfg.EventsExchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// buildProviderRegistry registers one adapter per configured job kind
func buildProviderRegistry(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	for kind, kc := range cfg.Providers.Kinds {
		switch kc.Adapter {
		case config.AdapterDubbing:
			registry.Register(kind, provider.NewDubbingAdapter(kc.BaseURL, kc.APIKey(), kc.RequestTimeout))
		case config.AdapterTranslate:
			registry.Register(kind, provider.NewTranslateAdapter(kc.BaseURL, kc.APIKey(), kc.RequestTimeout))
		case config.AdapterWatermark:
			registry.Register(kind, provider.NewWatermarkAdapter(kc.BaseURL, kc.APIKey(), kc.RequestTimeout))
		}

		logger.Info("Provider registered",
			slog.String("kind", kind),
			slog.String("adapter", kc.Adapter),
		)
	}

	return registry
}
