package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/db"
	"github.com/gurssagar/finalicp-sub006/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TONHotWalletAddress == "" {
		log.Fatal("TON_HOT_WALLET_ADDRESS is required")
	}

	custody, err := address.ParseAddr(cfg.TONHotWalletAddress)
	if err != nil {
		log.Fatal("invalid TON_HOT_WALLET_ADDRESS", zap.String("addr", cfg.TONHotWalletAddress), zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	tonAPI, err := ton.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}

	log.Info("TON indexer started",
		zap.String("custody_wallet", custody.String()),
		zap.String("network", cfg.TONNetwork),
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down TON indexer")
		cancel()
	}()

	indexer := ton.NewIndexer(tonAPI, custody, ton.NewRedisBook(rdb), rdb, log)
	indexer.Run(ctx, pollInterval)
}
