package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/app"
	"github.com/gurssagar/finalicp-sub006/internal/config"
	apphttp "github.com/gurssagar/finalicp-sub006/internal/http"
	"github.com/gurssagar/finalicp-sub006/internal/http/handlers"
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

	// Handlers
	escrowHandler := handlers.NewEscrowHandler(a.EscrowService, log)
	adminHandler := handlers.NewAdminHandler(a.AdminService, log)

	var devLedger *handlers.DevLedgerHandler
	if a.DevLedger != nil {
		devLedger = handlers.NewDevLedgerHandler(a.DevLedger, a.EscrowService, log)
	}

	wsHub := handlers.NewWSHub(cfg, a.Subscriber, log)
	wsHub.Start(ctx)

	// Fiber app
	fiberApp := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(fiberApp, cfg, log, a.Redis, a.Metrics, escrowHandler, adminHandler, devLedger, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = fiberApp.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := fiberApp.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
