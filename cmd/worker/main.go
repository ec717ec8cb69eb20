package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/freshgate-erp/freshgate-erp/internal/app"
	jobmetrics "github.com/freshgate-erp/freshgate-erp/internal/jobs"
	"github.com/freshgate-erp/freshgate-erp/internal/platform/db"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
	"github.com/freshgate-erp/freshgate-erp/jobs"
)

func main() {
	if app.IsTestMode() {
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
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	guard := shared.NewPostingGuard(pool)
	cleanupJob := jobs.NewGuardCleanupJob(guard, logger, metrics, cfg.GuardRetention)
	staleJob := jobs.NewStaleLotScanJob(pool, logger, metrics, cfg.StaleLotAge)

	cleanupTask, err := jobs.NewGuardCleanupTask(jobs.GuardCleanupPayload{
		RetentionHours: int(cfg.GuardRetention.Hours()),
	})
	if err != nil {
		logger.Error("build guard cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	staleTask, err := jobs.NewStaleLotScanTask(jobs.StaleLotScanPayload{
		MaxAgeHours: int(cfg.StaleLotAge.Hours()),
	})
	if err != nil {
		logger.Error("build stale lot scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGuardCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskStaleLotScan, Handler: staleJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 * * * *", Task: staleTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
