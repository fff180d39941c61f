package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reaper/internal/cache"
	"reaper/internal/config"
	"reaper/internal/database"
	"reaper/internal/game"
	"reaper/internal/logger"
	"reaper/internal/server"
	"reaper/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisService, err := cache.New(cfg.Redis, zl.Named("cache"))
	if err != nil {
		if cfg.Accounts == config.AccountsRedis {
			zl.Fatal("redis is required for the redis account store", zap.Error(err))
		}
		zl.Warn("running without redis", zap.Error(err))
	}
	var rdb *redis.Client
	if redisService != nil {
		rdb = redisService.GetClient()
	}

	db := database.New(cfg.Postgres)
	if err := db.Migrate(cfg.MigrationsPath); err != nil {
		zl.Fatal("run migrations", zap.String("path", cfg.MigrationsPath), zap.Error(err))
	}
	txManager, err := manager.New(trmpgx.NewDefaultFactory(db.Pool()))
	if err != nil {
		zl.Fatal("create tx manager", zap.Error(err))
	}

	var accounts store.Accounts
	switch cfg.Accounts {
	case config.AccountsRedis:
		accounts = store.NewRedisAccounts(rdb)
	case config.AccountsPostgres:
		accounts = store.NewPostgresAccounts(db.Pool(), txManager)
	case config.AccountsMemory:
		accounts = store.NewMemoryAccounts()
	}
	history := store.NewPostgresHistory(db.Pool(), txManager)

	hub := game.NewHub(cfg.Game.Heartbeat, zl)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	rounds := game.NewMemoryRegistry()
	reconciler := game.NewReconciler(rdb, zl)
	if n, err := reconciler.Load(ctx); err != nil {
		zl.Warn("restore reconciliation queue", zap.Error(err))
	} else if n > 0 {
		zl.Warn("unresolved rounds from a previous run", zap.Int("count", n))
	}
	ledger := game.NewLedger(accounts, cfg.Game.Limits, zl)
	payouts := game.NewPayoutEngine(ledger, accounts, history, hub, rounds, reconciler, cfg.Game.Payout, zl)
	deps := game.Deps{
		Ledger:  ledger,
		Payouts: payouts,
		Rounds:  rounds,
		Hub:     hub,
		History: history,
		Log:     zl,
	}

	factory := game.NewGameFactory(payouts, zl)
	factory.RegisterEngine(game.NewCoinflipEngine(deps, cfg.Game.Coinflip))
	factory.RegisterEngine(game.NewCrashEngine(deps, cfg.Game.Crash))
	factory.RegisterEngine(game.NewRouletteEngine(deps, cfg.Game.Roulette))
	factory.RegisterEngine(game.NewJackpotEngine(deps, cfg.Game.Jackpot))

	srv := server.New(cfg, server.Deps{
		DB:         db,
		Cache:      redisService,
		Accounts:   accounts,
		History:    history,
		Hub:        hub,
		Factory:    factory,
		Payouts:    payouts,
		Reconciler: reconciler,
		Log:        zl,
	})
	srv.RegisterFiberRoutes()

	factory.Start(ctx)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		zl.Info("listening", zap.String("addr", addr), zap.String("accounts", string(cfg.Accounts)))
		if err := srv.Listen(addr); err != nil {
			zl.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down gracefully, press Ctrl+C again to force")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	stopHub()

	zl.Info("server exiting")
}
