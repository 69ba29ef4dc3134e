package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/goodsflow/internal/app"
	jobmetrics "github.com/odyssey-erp/goodsflow/internal/jobs"
	"github.com/odyssey-erp/goodsflow/internal/observability"
	"github.com/odyssey-erp/goodsflow/internal/platform/cache"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/platform/tracing"
	"github.com/odyssey-erp/goodsflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.OTelServiceName + "-worker",
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		logger.Error("setup tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	services := app.NewServices(app.Infrastructure{
		Config:  cfg,
		Logger:  logger,
		Runner:  db.NewTxRunner(pool, cfg.DBTxRetries),
		Redis:   redisClient,
		Metrics: metrics,
	})

	reconcileJob := jobs.NewReconcileJob(services.Ledger, redislock.New(redisClient), logger, jobMetrics)
	invalidateJob := jobs.NewCacheInvalidateJob(services.ListingCache, logger, jobMetrics)

	reconcileTask, err := jobs.NewReconcileTask(cfg.ReconcilePageSize)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskCacheInvalidate, Handler: invalidateJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
