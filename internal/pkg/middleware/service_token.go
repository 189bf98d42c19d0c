package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/davidgeissler/newsprint/internal/pkg/env"
)

// OperatorIDLocal carries the audited caller identity set by the middleware.
const OperatorIDLocal = "OPERATOR_ID"

// RequireServiceToken guards a JSON route group with a static token read
// from the named environment variable. The token arrives via X-API-Key or an
// Authorization bearer header.
func RequireServiceToken(envKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := strings.TrimSpace(env.GetEnv(envKey, ""))
		if expected == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "service_unavailable",
				"message": envKey + " is not configured",
			})
		}

		got := extractTokenFromHeader(c)
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Missing API token",
			})
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid API token",
			})
		}

		// Operators identify themselves for the audit trail; default to the
		// token's env key so writes are always attributable to something.
		operator := strings.TrimSpace(c.Get("X-Operator-Id"))
		if operator == "" {
			operator = strings.ToLower(envKey)
		}
		c.Locals(OperatorIDLocal, operator)

		return c.Next()
	}
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-API-Key"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
