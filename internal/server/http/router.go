package httpserver

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"

	"relayd/internal/config"
	"relayd/pkg/cache"
)

const healthPath = "/healthz"

// RegisterRoutes строит маршруты на основе конфигурации.
// The health route is registered ahead of the access guard and never
// consults it; everything under a configured mount goes guard -> proxy.
func RegisterRoutes(app *fiber.App, cfg *config.FinalConfig, store cache.Cache) {
	app.Get(healthPath, func(c *fiber.Ctx) error { return c.SendString("ok") })
	if strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV"))) == "dev" {
		app.Get("/debug/config", func(c *fiber.Ctx) error { return c.JSON(cfg) })
	}

	p := newProxy(cfg, store)
	guard := keyGuard(cfg.Auth)

	seen := make(map[string]struct{}, len(cfg.Routes))
	for _, r := range cfg.Routes {
		mount := strings.TrimRight(r.Mount, "/")
		if mount == "" || !strings.HasPrefix(mount, "/") {
			log.Printf("[relayd] route %q has no usable mount prefix, skipping", r.Mount)
			continue
		}
		if _, dup := seen[mount]; dup {
			// same mount listed twice: first rule wins at resolve time,
			// registering again would panic in some routers and is useless here
			continue
		}
		seen[mount] = struct{}{}

		log.Printf("[relayd] register mount %s -> %s", mount, r.Upstream)
		app.All(mount, guard, p.handle)
		app.All(mount+"/*", guard, p.handle)
	}

	// everything else is not a configured mount
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).SendString("Not found")
	})
}
