package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/goodsflow/internal/app"
	"github.com/odyssey-erp/goodsflow/internal/observability"
	"github.com/odyssey-erp/goodsflow/internal/platform/cache"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/platform/events"
	"github.com/odyssey-erp/goodsflow/internal/platform/tracing"
	"github.com/odyssey-erp/goodsflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.OTelServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		logger.Error("setup tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	if cfg.MigrateOnBoot {
		if err := migrate(cfg.PGDSN); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: brokers, Topic: cfg.KafkaTopicMovements}, logger)
		if err != nil {
			logger.Error("kafka publisher", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	} else {
		logger.Info("KAFKA_BROKERS not set, movement events are dropped")
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(app.Infrastructure{
		Config:    cfg,
		Logger:    logger,
		Runner:    db.NewTxRunner(dbpool, cfg.DBTxRetries),
		Redis:     redisClient,
		Publisher: publisher,
		Queue:     queue,
		Metrics:   metrics,
	})

	router := app.NewRouter(services.Handlers(logger, app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Metrics:    metrics,
		JobHandler: jobs.NewHandler(inspector, logger),
		Readiness: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    app.RedisPinger{Client: redisClient},
		},
	}))

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func migrate(dsn string) error {
	m, err := db.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
