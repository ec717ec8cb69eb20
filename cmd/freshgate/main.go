package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/app"
	"github.com/freshgate-erp/freshgate-erp/internal/discard"
	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/platform/cache"
	"github.com/freshgate-erp/freshgate-erp/internal/platform/db"
	"github.com/freshgate-erp/freshgate-erp/internal/purchasebill"
	"github.com/freshgate-erp/freshgate-erp/internal/qc"
	"github.com/freshgate-erp/freshgate-erp/internal/regrading"
	"github.com/freshgate-erp/freshgate-erp/internal/settlement"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

func main() {
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, movement flag falls back to default", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	tolerance, err := decimal.NewFromString(cfg.CompletionTolerance)
	if err != nil {
		logger.Warn("invalid completion tolerance, using ledger default",
			slog.String("value", cfg.CompletionTolerance))
		tolerance = decimal.Zero
	}

	guard := shared.NewPostingGuard(pool)
	history := shared.NewHistoryLogger(pool)
	media := shared.NewMediaIndex(pool)
	flags := shared.NewRedisFlagSource(redisClient, cfg.MovementsDefault)
	approvals := shared.NewApprovalRecorder(pool, logger)

	ledgerRepo := ledger.NewRepository(pool)
	engine := ledger.NewEngine(logger)

	qcService := qc.NewService(qc.NewRepository(pool), history, media, logger)
	billService := purchasebill.NewService(purchasebill.NewRepository(pool), guard, history, logger)
	caseRepo := settlement.NewRepository(pool)
	regradingService := regrading.NewService(regrading.NewRepository(pool), qcService, billService,
		ledgerRepo, engine, guard, flags, media, history, tolerance, logger)
	coordinator := settlement.NewCoordinator(qcService, billService, ledgerRepo, engine,
		guard, caseRepo, regradingService, flags, history, logger)
	discardService := discard.NewService(discard.NewRepository(pool), caseRepo, qcService,
		engine, flags, approvals, history, logger)

	router := app.NewRouter(app.RouterDeps{
		Logger:      logger,
		Config:      cfg,
		QC:          qc.NewHandler(logger, qcService),
		Bills:       purchasebill.NewHandler(logger, billService),
		Settlements: settlement.NewHandler(logger, coordinator),
		Regrading:   regrading.NewHandler(logger, regradingService),
		Discards:    discard.NewHandler(logger, discardService),
		Ledger:      ledger.NewHandler(logger, ledgerRepo),
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
