package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prohmpiriya/ticket-monitor/internal/alert"
	"github.com/prohmpiriya/ticket-monitor/internal/di"
	"github.com/prohmpiriya/ticket-monitor/internal/worker"
	"github.com/prohmpiriya/ticket-monitor/migrations"
	"github.com/prohmpiriya/ticket-monitor/pkg/config"
	"github.com/prohmpiriya/ticket-monitor/pkg/database"
	"github.com/prohmpiriya/ticket-monitor/pkg/kafka"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const serviceName = "ticket-monitor"

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
	appLog.Info("Starting Ticket Monitor...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	telemetryCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}
	if _, err := telemetry.Init(ctx, telemetryCfg); err != nil {
		appLog.Warn("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())

	// Initialize database connection
	var db *database.PostgresDB
	if cfg.Scraper.StoreBackend != di.BackendMemory {
		db, err = database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		})
		if err != nil {
			appLog.Fatal("Database connection failed", zap.Error(err))
		}
		defer db.Close()
		appLog.Info("Database connected")

		if cfg.Database.AutoMigrate {
			if err := migrations.Apply(ctx, db.Pool()); err != nil {
				appLog.Fatal("Failed to apply migrations", zap.Error(err))
			}
		}
	}

	// Initialize Redis connection (optional unless the rate limit backend needs it)
	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
		EnableTracing: cfg.OTel.Enabled,
	})
	if err != nil {
		if cfg.Scraper.RateLimitBackend == di.BackendRedis {
			appLog.Fatal("Redis connection failed", zap.Error(err))
		}
		appLog.Warn("Redis connection failed (running on local state)", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		appLog.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	// Initialize Kafka producer for the event relay and the job DLQ
	var producer *kafka.Producer
	var dlq retry.DLQPublisher
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      cfg.Kafka.ClientID,
			MaxRetries:    3,
			RetryInterval: 2 * time.Second,
			Linger:        10 * time.Millisecond,
		})
		if err != nil {
			appLog.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		defer producer.Close()
		dlq = retry.NewKafkaDLQPublisher(producer, &retry.DLQConfig{Source: serviceName})
		appLog.Info("Kafka producer connected")
	}

	container, err := di.NewContainer(&di.ContainerConfig{
		Config: cfg,
		DB:     db,
		Redis:  redisClient,
		DLQ:    dlq,
		Logger: appLog,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	// Background workers
	g, gctx := errgroup.WithContext(ctx)

	platforms := container.Platforms(ctx)
	scrapeWorker := worker.NewScrapeWorker(&worker.ScrapeWorkerConfig{
		Platforms:    platforms,
		Concurrency:  cfg.Scraper.Workers,
		PollInterval: cfg.Scraper.PollInterval,
	}, container.Runner, appLog.With(zap.String("worker", "scrape")))
	g.Go(func() error { return scrapeWorker.Start(gctx) })

	refresh := worker.NewRefreshScheduler(&worker.RefreshSchedulerConfig{
		Platforms:       platforms,
		Interval:        cfg.Scraper.RefreshInterval,
		Horizon:         cfg.Scraper.RefreshHorizon,
		FreshnessWindow: cfg.Scraper.FreshnessWindow,
	}, container.Queue, container.Events, container.Tickets, container.Configs, container.Clock, appLog.With(zap.String("worker", "refresh")))
	g.Go(func() error { return refresh.Start(gctx) })

	demandWorker := worker.NewDemandWorker(cfg.Demand.SweepInterval, container.Sweeper, appLog.With(zap.String("worker", "demand")))
	g.Go(func() error { return demandWorker.Start(gctx) })

	if producer != nil {
		// alerts are evaluated by cmd/alert-worker from the events topic
		relay := worker.NewEventRelay(&worker.EventRelayConfig{
			EventsTopic: cfg.Kafka.EventsTopic,
			AlertsTopic: cfg.Kafka.AlertsTopic,
		}, container.Store, container.Checkpoints, producer, appLog.With(zap.String("worker", "relay")))
		g.Go(func() error {
			return worker.NewPollingWorker(worker.RelayConsumerName, time.Second, relay, appLog).Start(gctx)
		})
	} else {
		g.Go(func() error {
			return worker.NewPollingWorker(alert.ConsumerName, cfg.Alert.PollInterval, container.Engine, appLog).Start(gctx)
		})
	}

	// Setup Gin
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := container.Router(serviceName, cfg.OTel.Enabled)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
	}
	g.Go(func() error {
		appLog.Info("Ops API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	appLog.Info("Ticket Monitor started", zap.Int("platforms", len(platforms)))
	if err := g.Wait(); err != nil {
		appLog.Error("Ticket Monitor stopped with error", zap.Error(err))
		os.Exit(1)
	}
	appLog.Info("Ticket Monitor exited gracefully")
}
