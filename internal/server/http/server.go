package httpserver

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"relayd/internal/config"
	"relayd/pkg/cache"
)

// Server wraps Fiber app and configuration.
type Server struct {
	app *fiber.App
	cfg *config.FinalConfig
}

// New builds a Fiber server with common middlewares and the proxy routes.
// The cache store may be nil (caching disabled).
func New(cfg *config.FinalConfig, store cache.Cache) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "relayd",
		ReadTimeout:  time.Duration(cfg.Gateway.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Gateway.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Gateway.IdleTimeoutSec) * time.Second,
	})

	app.Use(recover.New())
	app.Use(compress.New())

	if cfg.RateLimit.Max > 0 {
		window := time.Duration(cfg.RateLimit.WindowSec) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit.Max,
			Expiration: window,
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == healthPath
			},
		}))
	}

	RegisterRoutes(app, cfg, store)

	return &Server{app: app, cfg: cfg}
}

// Start runs Fiber server and handles graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := cfgAddress(s.cfg.Gateway.Address)
	log.Printf("[relayd] listening on %s", addr)

	// start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Gateway.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func cfgAddress(addr string) string {
	if addr == "" {
		return ":" // default Fiber listens on 0.0.0.0
	}
	return addr
}
