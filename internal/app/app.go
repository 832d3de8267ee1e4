// Package app assembles the escrow backends selected by configuration.
package app

import (
	"context"
	"fmt"

	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/db"
	"github.com/gurssagar/finalicp-sub006/internal/events"
	"github.com/gurssagar/finalicp-sub006/internal/ledger"
	"github.com/gurssagar/finalicp-sub006/internal/lock"
	"github.com/gurssagar/finalicp-sub006/internal/metrics"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/repositories"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"github.com/gurssagar/finalicp-sub006/internal/ton"
	"github.com/gurssagar/finalicp-sub006/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool // nil with the memory store
	Redis   *redis.Client // nil when nothing needs it
	Metrics *metrics.Registry

	Store      repositories.EscrowStore
	Audit      repositories.AuditStore
	Ledger     ledger.Gateway
	DevLedger  *ledger.MemoryLedger // set only for LEDGER_DRIVER=memory
	Locker     lock.Locker
	Publisher  events.Publisher
	Subscriber events.Subscriber

	AdminConfig   *services.AdminConfig
	EscrowService *services.EscrowService
	AdminService  *services.AdminService

	log     *zap.Logger
	closers []func()
}

// NeedsRedis reports whether the selected drivers require a Redis connection.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.LockDriver == config.DriverRedis || cfg.LedgerDriver == config.DriverTON
}

// New connects to every backend cfg selects and wires the services on top.
// Redis is also used for events whenever it is reachable.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	cfg.Validate(log)

	a := &App{Config: cfg, Metrics: metrics.New(), log: log}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.StoreDriver == config.DriverPostgres {
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, a.log)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)

		if err := db.RunMigrations(ctx, pool, migrations.FS, a.log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, a.log)
	switch {
	case err == nil:
		a.Redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	case NeedsRedis(cfg):
		return fmt.Errorf("connect to redis: %w", err)
	default:
		a.log.Warn("redis unavailable, using in-process events", zap.Error(err))
	}
	return nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	var adminStore repositories.AdminConfigStore
	if a.Pool != nil {
		a.Store = repositories.NewEscrowRepo(a.Pool)
		a.Audit = repositories.NewAuditRepo(a.Pool)
		adminStore = repositories.NewAdminConfigRepo(a.Pool)
	} else {
		a.Store = repositories.NewMemoryEscrowRepo()
		a.Audit = repositories.NewMemoryAuditRepo()
		adminStore = repositories.NewMemoryAdminConfigRepo()
	}

	if a.Redis != nil {
		a.Publisher = events.NewRedisPublisher(a.Redis, a.log)
		a.Subscriber = events.NewRedisSubscriber(a.Redis, a.log)
	} else {
		bus := events.NewMemoryBus()
		a.Publisher = bus
		a.Subscriber = bus
	}

	if cfg.LockDriver == config.DriverRedis {
		a.Locker = lock.NewRedisLocker(a.Redis, cfg.LockTTL, a.log)
	} else {
		a.Locker = lock.NewKeyedMutex()
	}

	custody := models.Principal(cfg.CustodyOwner)
	switch cfg.LedgerDriver {
	case config.DriverTON:
		gw, err := a.tonGateway(ctx)
		if err != nil {
			return err
		}
		a.Ledger = gw
	default:
		a.DevLedger = ledger.NewMemoryLedger(custody)
		a.Ledger = a.DevLedger
	}

	var relayer *models.Principal
	if cfg.Relayer != "" {
		r := models.Principal(cfg.Relayer)
		relayer = &r
	}
	admin, err := services.LoadAdminConfig(ctx, models.Principal(cfg.Authority), adminStore, models.AdminSettings{
		Treasury: models.Principal(cfg.Treasury),
		Relayer:  relayer,
	})
	if err != nil {
		return err
	}
	a.AdminConfig = admin

	a.EscrowService = services.NewEscrowService(
		a.Store, a.Audit, a.Ledger, a.Locker, a.AdminConfig, a.Publisher, a.Metrics, custody, a.log,
	)
	a.AdminService = services.NewAdminService(a.AdminConfig, a.Audit, a.Publisher, a.log)

	a.log.Info("escrow backends ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("ledger", cfg.LedgerDriver),
		zap.String("lock", cfg.LockDriver),
		zap.Bool("redis_events", a.Redis != nil),
		zap.String("custody", cfg.CustodyOwner),
	)
	return nil
}

func (a *App) tonGateway(ctx context.Context) (*ton.Gateway, error) {
	api, err := ton.Connect(ctx, a.Config, a.log)
	if err != nil {
		return nil, fmt.Errorf("connect to TON network: %w", err)
	}

	sender, err := ton.NewWalletSender(api, a.Config.TONWalletSeed)
	if err != nil {
		return nil, err
	}
	if got := sender.Address().String(); got != a.Config.TONHotWalletAddress {
		a.log.Warn("custody wallet seed does not match TON_HOT_WALLET_ADDRESS",
			zap.String("seed_address", got),
			zap.String("configured", a.Config.TONHotWalletAddress),
		)
	}

	return ton.NewGateway(ton.NewRedisBook(a.Redis), sender, a.log), nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
