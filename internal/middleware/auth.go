package middleware

import (
	"strings"

	"github.com/custody-ledger/backend/internal/auth"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxCaller = "caller"

// AuthMiddleware authenticates the bearer token and stores the caller's
// ledger address in Locals.
func AuthMiddleware(jwtSecret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(jwtSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxCaller, ledger.Address(claims.Address))
		return c.Next()
	}
}

func GetCaller(c *fiber.Ctx) ledger.Address {
	addr, _ := c.Locals(CtxCaller).(ledger.Address)
	return addr
}

// DirectFundingMiddleware guards endpoints that attach value without a chain
// transfer. They are only served when direct funding is enabled.
func DirectFundingMiddleware(enabled bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !enabled {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "direct funding is disabled, send a chain transfer with the ledger memo",
			})
		}
		return c.Next()
	}
}
