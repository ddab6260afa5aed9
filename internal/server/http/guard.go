package httpserver

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"relayd/internal/config"
)

// keyGuard returns middleware enforcing the shared-secret header on
// configured mounts. Comparison is constant-time. An empty configured
// secret denies everything rather than letting anonymous traffic through.
func keyGuard(auth config.Auth) fiber.Handler {
	header := auth.Header
	if header == "" {
		header = "x-proxy-key"
	}
	secret := []byte(auth.Secret)

	return func(c *fiber.Ctx) error {
		got := []byte(c.Get(header))
		if len(secret) == 0 || subtle.ConstantTimeCompare(got, secret) != 1 {
			return c.Status(fiber.StatusForbidden).SendString("Forbidden")
		}
		return c.Next()
	}
}
