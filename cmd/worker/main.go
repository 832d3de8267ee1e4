package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurssagar/finalicp-sub006/internal/app"
	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("worker is running against a memory store and will only see its own escrows")
	}

	log.Info("worker started",
		zap.Duration("refresh_interval", cfg.RefreshInterval),
		zap.Duration("release_interval", cfg.ReleaseInterval),
	)

	// Run jobs on tickers
	refreshTicker := time.NewTicker(cfg.RefreshInterval)
	releaseTicker := time.NewTicker(cfg.ReleaseInterval)
	defer refreshTicker.Stop()
	defer releaseTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-refreshTicker.C:
			runReconcile(ctx, a.EscrowService, cfg.WorkerBatchSize, log)
		case <-releaseTicker.C:
			runReleaseDue(ctx, a.EscrowService, cfg.WorkerBatchSize, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runReconcile(ctx context.Context, escrowService *services.EscrowService, batch int, log *zap.Logger) {
	report, err := escrowService.ReconcilePending(ctx, batch)
	if err != nil {
		log.Error("funding reconciliation failed", zap.Error(err))
		return
	}
	if report.Succeeded > 0 || report.Failed > 0 {
		log.Info("funding reconciliation",
			zap.Int("checked", report.Checked),
			zap.Int("funded", report.Succeeded),
			zap.Int("failed", report.Failed),
		)
	}
}

func runReleaseDue(ctx context.Context, escrowService *services.EscrowService, batch int, log *zap.Logger) {
	report, err := escrowService.ReleaseDue(ctx, time.Now(), batch)
	if err != nil {
		log.Error("scheduled release failed", zap.Error(err))
		return
	}
	if report.Checked > 0 {
		log.Info("scheduled release",
			zap.Int("checked", report.Checked),
			zap.Int("released", report.Succeeded),
			zap.Int("failed", report.Failed),
		)
	}
}
