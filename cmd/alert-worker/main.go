package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/alert"
	"github.com/prohmpiriya/ticket-monitor/internal/di"
	"github.com/prohmpiriya/ticket-monitor/internal/worker"
	"github.com/prohmpiriya/ticket-monitor/pkg/config"
	"github.com/prohmpiriya/ticket-monitor/pkg/database"
	"github.com/prohmpiriya/ticket-monitor/pkg/kafka"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const serviceName = "alert-worker"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Alert Worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())

	// AlertTriggered events are appended to the shared event store
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      10,
		MinConns:      2,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		EnableTracing: cfg.OTel.Enabled,
	})
	if err != nil {
		appLog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		EnableTracing: cfg.OTel.Enabled,
	})
	if err != nil {
		appLog.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected")

	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		Topics:         []string{cfg.Kafka.EventsTopic},
		ClientID:       serviceName,
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
		SessionTimeout: 30 * time.Second,
		MaxPollRecords: cfg.Alert.BatchSize,
	})
	if err != nil {
		appLog.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()
	appLog.Info("Kafka consumer connected", zap.String("topic", cfg.Kafka.EventsTopic))

	// the alert worker always stores in Postgres, whatever the monitor uses
	cfg.Scraper.StoreBackend = di.BackendPostgres
	container, err := di.NewContainer(&di.ContainerConfig{
		Config: cfg,
		DB:     db,
		Redis:  redisClient,
		Logger: appLog,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	consumerWorker := worker.NewAlertConsumer(consumer, container.Engine, appLog.With(zap.String("worker", alert.ConsumerName)))
	appLog.Info("Alert Worker started")
	if err := consumerWorker.Start(ctx); err != nil {
		appLog.Error("Worker error", zap.Error(err))
	}
	appLog.Info("Alert Worker exited gracefully")
}
