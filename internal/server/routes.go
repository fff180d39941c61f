package server

import (
	"crypto/subtle"
	"errors"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reaper/internal/game"
	"reaper/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-Admin-Token",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")
	api.Get("/user/:userId/balance", s.getUserBalanceHandler)
	api.Post("/user/:userId/balance", s.requireAdmin, s.setUserBalanceHandler)
	api.Get("/history/:game", s.historyHandler)

	admin := api.Group("/admin", s.requireAdmin)
	admin.Get("/reconcile", s.listReconcileHandler)
	admin.Post("/reconcile/:roundId/retry", s.retryReconcileHandler)
	admin.Delete("/reconcile/:roundId", s.acknowledgeReconcileHandler)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws/:channel", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	clients := fiber.Map{}
	for _, g := range game.GameTypes {
		clients[string(g)] = s.hub.GetClientCount(g)
	}
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": clients,
			"pending_reconcile": len(s.reconciler.List()),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

// requireAdmin checks X-Admin-Token. With no token configured admin routes
// are open outside production and closed in it.
func (s *FiberServer) requireAdmin(c *fiber.Ctx) error {
	if s.cfg.AdminToken == "" {
		if s.cfg.Production() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin API is disabled",
			})
		}
		return c.Next()
	}
	if subtle.ConstantTimeCompare([]byte(c.Get("X-Admin-Token")), []byte(s.cfg.AdminToken)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid admin token",
		})
	}
	return c.Next()
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	balance, err := s.accounts.Balance(c.Context(), userID)
	if err != nil {
		s.log.Error("read balance", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance.StringFixed(2),
	})
}

// setUserBalanceHandler overwrites a balance. It exists for local and
// staging setups and is refused in production.
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	if s.cfg.Production() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Balance writes are disabled in production",
		})
	}

	userID := c.Params("userId")
	var body struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := s.accounts.SetBalance(c.Context(), userID, body.Balance); err != nil {
		if errors.Is(err, store.ErrInvalidAmount) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		s.log.Error("set balance", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to set balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": body.Balance.StringFixed(2),
		"message": "Balance updated successfully",
	})
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	g := game.GameType(c.Params("game"))
	if !g.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown game",
		})
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit),
			})
		}
		limit = n
	}

	rounds, err := s.history.Recent(c.Context(), g, limit)
	if err != nil {
		s.log.Error("load history", zap.String("game", string(g)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}
	return c.JSON(fiber.Map{
		"game":   g,
		"rounds": rounds,
	})
}

func (s *FiberServer) listReconcileHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"failures": s.reconciler.List(),
	})
}

func (s *FiberServer) retryReconcileHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")
	err := s.payouts.Reconcile(c.Context(), roundID)
	switch {
	case errors.Is(err, game.ErrRoundNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		s.log.Warn("reconcile retry failed", zap.String("round_id", roundID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"round_id": roundID,
			"error":    err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"round_id": roundID,
		"status":   "resolved",
	})
}

func (s *FiberServer) acknowledgeReconcileHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")
	err := s.payouts.Acknowledge(c.Context(), roundID)
	switch {
	case errors.Is(err, game.ErrRoundNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, game.ErrRoundHeld):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Round is still held, retry it instead",
		})
	case err != nil:
		return err
	}
	return c.JSON(fiber.Map{
		"round_id": roundID,
		"status":   "acknowledged",
	})
}
