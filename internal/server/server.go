package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"reaper/internal/cache"
	"reaper/internal/config"
	"reaper/internal/database"
	"reaper/internal/game"
	"reaper/internal/store"
)

// Deps are the components the HTTP and websocket handlers talk to. DB and
// Cache may be nil when the process runs on memory stores.
type Deps struct {
	DB         database.Service
	Cache      cache.Service
	Accounts   store.Accounts
	History    game.HistoryStore
	Hub        *game.Hub
	Factory    *game.GameFactory
	Payouts    *game.PayoutEngine
	Reconciler *game.Reconciler
	Log        *zap.Logger
}

type FiberServer struct {
	*fiber.App

	cfg        config.Config
	db         database.Service
	cache      cache.Service
	accounts   store.Accounts
	history    game.HistoryStore
	hub        *game.Hub
	factory    *game.GameFactory
	payouts    *game.PayoutEngine
	reconciler *game.Reconciler
	auth       *Authenticator
	log        *zap.Logger
}

func New(cfg config.Config, deps Deps) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "reaper",
			AppName:       "reaper",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		cfg:        cfg,
		db:         deps.DB,
		cache:      deps.Cache,
		accounts:   deps.Accounts,
		history:    deps.History,
		hub:        deps.Hub,
		factory:    deps.Factory,
		payouts:    deps.Payouts,
		reconciler: deps.Reconciler,
		auth:       NewAuthenticator(cfg.JWTSecret),
		log:        deps.Log.Named("server"),
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	return server
}

// Shutdown stops the round loops, refunding open rounds, then closes the
// listener and the backing connections.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	var errs []error
	if err := s.factory.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.App.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
