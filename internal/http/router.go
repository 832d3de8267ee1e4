package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/http/handlers"
	"github.com/gurssagar/finalicp-sub006/internal/metrics"
	"github.com/gurssagar/finalicp-sub006/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupRouter mounts every route. rdb may be nil (no rate limiting), devLedger
// is nil unless the in-memory ledger is in use, wsHub is nil without a subscriber.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	m *metrics.Registry,
	escrowHandler *handlers.EscrowHandler,
	adminHandler *handlers.AdminHandler,
	devLedger *handlers.DevLedgerHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware(m))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	api := app.Group("/api/v1")

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Escrows
	protected.Post("/escrows", escrowHandler.CreateEscrow)
	protected.Get("/escrows", escrowHandler.ListEscrows)
	protected.Get("/escrows/:id", escrowHandler.GetEscrow)
	protected.Get("/escrows/:id/deposit-account", escrowHandler.GetDepositAccount)
	protected.Post("/escrows/:id/refresh", escrowHandler.RefreshFunding)
	protected.Post("/escrows/:id/release", escrowHandler.Release)
	protected.Post("/escrows/:id/refund", escrowHandler.Refund)
	protected.Get("/escrows/:id/events", escrowHandler.GetEvents)

	// Admin config
	protected.Get("/admin/treasury", adminHandler.GetTreasury)
	protected.Put("/admin/treasury", adminHandler.SetTreasury)
	protected.Get("/admin/relayer", adminHandler.GetRelayer)
	protected.Put("/admin/relayer", adminHandler.SetRelayer)

	// Dev ledger (memory driver only)
	if devLedger != nil {
		protected.Post("/dev/ledger/deposits", devLedger.Deposit)
	}

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}
