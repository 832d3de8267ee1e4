package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/auth"
	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"go.uber.org/zap"
)

const CtxPrincipal = "principal"

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxPrincipal, claims.Principal)

		return c.Next()
	}
}

func GetPrincipal(c *fiber.Ctx) models.Principal {
	p, _ := c.Locals(CtxPrincipal).(models.Principal)
	return p
}
