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

	"github.com/cuongbtq/storybook-be/internal/config"
	"github.com/cuongbtq/storybook-be/internal/dispatch"
	"github.com/cuongbtq/storybook-be/internal/generation/compose"
	"github.com/cuongbtq/storybook-be/internal/generation/document"
	"github.com/cuongbtq/storybook-be/internal/generation/gemini"
	"github.com/cuongbtq/storybook-be/internal/generation/story"
	"github.com/cuongbtq/storybook-be/internal/objectstore"
	"github.com/cuongbtq/storybook-be/internal/pipeline"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/retry"
	"github.com/cuongbtq/storybook-be/internal/store"
	"github.com/cuongbtq/storybook-be/internal/worker"
	"github.com/cuongbtq/storybook-be/shared/logger"
	"github.com/cuongbtq/storybook-be/shared/postgresql"
	"github.com/cuongbtq/storybook-be/shared/rabbitmq"
	"github.com/cuongbtq/storybook-be/shared/redis"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	mockupQuality = 85
	// interruptGrace is how long cancelled stages get to settle their messages
	interruptGrace = 10 * time.Second
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
	baseLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer baseLogger.Close()

	appLogger := baseLogger.With(slog.String("service", "worker"))

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
		dbClient.Close()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Initialize Redis client
	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		rabbitClient.Close()
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// Cleanup function to close all resources
	var geminiClient *gemini.Client
	cleanup := func() {
		if geminiClient != nil {
			geminiClient.Close()
		}
		dbClient.Close()
		rabbitClient.Close()
		redisClient.Close()
	}

	orchestrator, err := initOrchestrator(cfg, dbClient, redisClient, appLogger.Logger, &geminiClient)
	if err != nil {
		cleanup()
		return err
	}

	workerID := fmt.Sprintf("%s-%s", cfg.App.Name, uuid.NewString()[:8])

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		RabbitClient:      rabbitClient,
		Store:             store.New(dbClient.GetDB(), appLogger.Logger),
		Runner:            orchestrator,
		Locker:            progress.NewLocker(redisClient.GetClient()),
		Dispatcher:        dispatch.New(rabbitClient, appLogger.Logger),
		WorkerID:          workerID,
		QueueName:         cfg.RabbitMQ.Queue.Name,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		LockTTL:           cfg.Worker.LockTTL,
		BusyDelay:         cfg.Worker.BusyDelay,
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
		cleanup()
		return err
	}

	// Stop taking messages and let in-flight stages finish on a live context
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		// Interrupted stages are requeued, not failed
		appLogger.Warn("Worker shutdown timeout exceeded, interrupting in-flight stages")
		cancel()

		select {
		case <-done:
			appLogger.Info("Interrupted stages requeued")
		case <-time.After(interruptGrace):
			appLogger.Warn("In-flight stages did not return, forcing exit")
		}
	}

	cancel()
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
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterQueue:    cfg.Queue.DeadLetter,
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

// initRedis initializes the Redis client used for locks and progress events
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	redisConfig := &redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		UseTLS:       cfg.UseTLS,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return redis.NewClient(redisConfig, logger)
}

// initOrchestrator builds the generation collaborators and the stage orchestrator.
// The Gemini client is handed back through gc so the caller can close it.
func initOrchestrator(cfg *config.Config, dbClient *postgresql.Client, redisClient *redis.Client, logger *slog.Logger, gc **gemini.Client) (*pipeline.Orchestrator, error) {
	ctx := context.Background()

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		Bucket:        cfg.Storage.Bucket,
		Region:        cfg.Storage.Region,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		URLExpiry:     cfg.Storage.URLExpiry,
		FetchTimeout:  cfg.Storage.FetchTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	geminiClient, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:     cfg.Gemini.APIKey,
		ImageModel: cfg.Gemini.ImageModel,
		TextModel:  cfg.Gemini.TextModel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
	}
	*gc = geminiClient

	stories, err := story.NewGenerator(cfg.Pipeline.SceneCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load story templates: %w", err)
	}
	logger.Info("Story templates loaded", slog.Any("themes", stories.Themes()))

	compositor, err := compose.New(mockupQuality, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize compositor: %w", err)
	}

	return pipeline.New(pipeline.Dependencies{
		Logger:      logger,
		Store:       store.New(dbClient.GetDB(), logger),
		Storage:     objects,
		Notifier:    progress.NewPublisher(redisClient.GetClient(), logger),
		Characters:  geminiClient,
		Analyzer:    geminiClient,
		Stories:     stories,
		Renderer:    geminiClient,
		Compositor:  compositor,
		Documents:   document.NewAssembler(logger),
		TemplateFor: compose.TemplateFor,
	}, pipeline.Config{
		Retry: retry.Policy{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			BaseDelay:   cfg.Pipeline.BaseDelay,
			CallTimeout: cfg.Pipeline.CallTimeout,
		},
		SceneCount:   cfg.Pipeline.SceneCount,
		KeyScenes:    cfg.Pipeline.KeyScenes,
		SceneDelay:   cfg.Pipeline.SceneDelay,
		AgeBand:      cfg.Pipeline.AgeBand,
		DefaultStyle: cfg.Pipeline.DefaultStyle,
	}), nil
}
