package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"virtualpos/internal/bootstrap"
	"virtualpos/internal/config"
	cronpkg "virtualpos/internal/cron"
	"virtualpos/internal/gateway"
	"virtualpos/internal/middleware"
	"virtualpos/internal/pkg/httpclient"
	"virtualpos/internal/repository"
	"virtualpos/internal/router"
	"virtualpos/internal/vpos"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	// --- Repositories ---
	opRepo := repository.NewOperationRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	posRepo := repository.NewPointOfSaleRepository(db)

	// --- Facade dependencies ---
	deps := &vpos.Deps{
		Ops:     opRepo,
		Refunds: refundRepo,
		POS:     posRepo,
		HTTP:    httpclient.New(),
		Options: gateway.Options{
			NotificationBase: cfg.Payment.NotificationBase,
			CecaChargeBudget: cfg.Payment.CecaChargeBudget,
		},
		Logger: logger,
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	// --- Confirmation Deduper (Redis with in-memory fallback) ---
	deduper, dedupeErr := middleware.NewConfirmationDeduper(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		cfg.Payment.DedupTTL,
	)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for confirmation dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Routes ---
	router.Setup(e, deps, posRepo, deduper, logger)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(opRepo, cfg.Payment.SweepSchedule, cfg.Payment.PendingTTL, logger)
	scheduler.Start()

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting virtualpos server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
