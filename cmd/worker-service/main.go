package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/config"
	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/service"
	"github.com/climsoft/climsoft-web-sub003/internal/storage"
	"github.com/climsoft/climsoft-web-sub003/internal/worker"
	"github.com/climsoft/climsoft-web-sub003/shared/database"
	"github.com/climsoft/climsoft-web-sub003/shared/logger"
	"github.com/climsoft/climsoft-web-sub003/shared/rabbitmq"
	"github.com/joho/godotenv"
)

const defaultConsumerTag = "climsoft-job-worker"

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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if err := storage.Migrate(context.Background(), dbClient.GetDB(), appLogger.Logger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database connection established",
		slog.String("driver", dbClient.Driver()),
	)

	jobService := service.NewJobQueueService(
		storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		appLogger.Logger,
		service.Config{
			DefaultMaxAttempts: cfg.Worker.DefaultMaxAttempts,
			RetryBackoff:       cfg.Worker.RetryBackoff,
			LeaseDuration:      cfg.Worker.LeaseDuration,
		},
	)

	registry := worker.NewRegistry()

	var consumer *worker.TriggerConsumer
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established",
			slog.Bool("connected", rabbitClient.IsConnected()),
		)

		tag := cfg.RabbitMQ.Consumer.Tag
		if tag == "" {
			tag = defaultConsumerTag
		}
		consumer = worker.NewTriggerConsumer(appLogger.Logger, rabbitClient, jobService, tag)

		forward := worker.NewForwardHandler(rabbitClient)
		for _, name := range cfg.Worker.ForwardJobNames {
			if err := registry.Register(name, forward); err != nil {
				return fmt.Errorf("failed to register forward handler: %w", err)
			}
		}
	}

	appLogger.Info("Job handlers registered",
		slog.Any("names", registry.Names()),
	)

	schedules, err := buildSchedules(cfg.Schedules)
	if err != nil {
		return err
	}

	processor := worker.NewProcessor(&worker.ProcessorConfig{
		Logger:            appLogger.Logger,
		Queue:             jobService,
		Registry:          registry,
		BatchSize:         cfg.Worker.BatchSize,
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Processor:     processor,
		Jobs:          jobService,
		Consumer:      consumer,
		PollInterval:  cfg.Worker.PollInterval,
		CleanupCron:   cfg.Worker.CleanupCron,
		RetentionDays: cfg.Worker.RetentionDays,
		Schedules:     schedules,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

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

	cancel()

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
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
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// buildSchedules converts configured cron triggers; payloads are re-encoded as JSON
func buildSchedules(cfgs []config.ScheduleConfig) ([]worker.Schedule, error) {
	schedules := make([]worker.Schedule, 0, len(cfgs))
	for _, s := range cfgs {
		var payload json.RawMessage
		if len(s.Payload) > 0 {
			data, err := json.Marshal(s.Payload)
			if err != nil {
				return nil, fmt.Errorf("schedule %q: failed to encode payload: %w", s.Name, err)
			}
			payload = data
		}

		schedules = append(schedules, worker.Schedule{
			Name:        s.Name,
			JobType:     domain.JobType(s.JobType),
			Cron:        s.Cron,
			Payload:     payload,
			MaxAttempts: s.MaxAttempts,
		})
	}
	return schedules, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// initDatabase opens the job store
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
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
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}, logger)
}
