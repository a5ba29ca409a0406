package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// RequireBearer accepts requests whose Authorization header carries the
// given secret as a bearer token. An empty secret rejects every request.
func RequireBearer(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Errorf("[Auth] bearer secret not configured for %s", c.Path())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "configuration_error",
				"message": "endpoint is not configured",
			})
		}
		token := bearerToken(c)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid or missing bearer token",
			})
		}
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
