package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"busline/backend/internal/app"
	"busline/backend/internal/config"
	"busline/backend/internal/db"
	"busline/backend/internal/lifecycle"
	"busline/backend/internal/logging"

	"github.com/go-co-op/gocron/v2"
)

const (
	retryBatchSize     = 50
	auditInterval      = 10 * time.Minute
	jobTimeoutFraction = 2
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging, "worker")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	services, err := app.New(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error("setup error", "error", err)
		os.Exit(1)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	sweep := cfg.Worker.SweepInterval
	if _, err := s.NewJob(
		gocron.DurationJob(sweep),
		gocron.NewTask(func() { runTicketRetry(ctx, services.Manager, sweep*jobTimeoutFraction, logger) }),
		gocron.WithName("ticket_issuance_retry"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		logger.Error("scheduler error", "job", "ticket_issuance_retry", "error", err)
		os.Exit(1)
	}
	if _, err := s.NewJob(
		gocron.DurationJob(auditInterval),
		gocron.NewTask(func() { runInventoryAudit(ctx, services.Manager, logger) }),
		gocron.WithName("inventory_audit"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		logger.Error("scheduler error", "job", "inventory_audit", "error", err)
		os.Exit(1)
	}

	s.Start()
	logger.Info("worker_started", "sweep_interval", sweep.String())

	<-ctx.Done()
	logger.Info("shutdown", "service", "worker")
	if err := s.Shutdown(); err != nil {
		logger.Warn("shutdown", "status", "scheduler_error", "error", err)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := services.Close(drainCtx); err != nil {
		logger.Warn("shutdown", "status", "drain_error", "error", err)
	}
}

func runTicketRetry(ctx context.Context, manager *lifecycle.Manager, timeout time.Duration, logger *slog.Logger) {
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	report, err := manager.RetryTicketIssuance(jobCtx, retryBatchSize)
	if err != nil {
		logger.Error("ticket_issuance_retry", "status", "error", "error", err)
		return
	}
	if report.Scanned == 0 {
		return
	}
	logger.Info("ticket_issuance_retry", "status", "ok",
		"scanned", report.Scanned, "issued", report.Issued, "failed", report.Failed, "skipped", report.Skipped)
}

func runInventoryAudit(ctx context.Context, manager *lifecycle.Manager, logger *slog.Logger) {
	jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	violations, err := manager.AuditInventory(jobCtx)
	if err != nil {
		logger.Error("inventory_audit", "status", "error", "error", err)
		return
	}
	logger.Info("inventory_audit", "status", "ok", "violations", len(violations))
}
