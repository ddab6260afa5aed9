package httpserver

import (
	"context"
	"fmt"
	"strings"

	"relayd/internal/config"
	"relayd/pkg/cache"
)

// SetupCache builds the response store for the configured driver.
// Returns the store (nil when caching is off) and a cleanup function.
func SetupCache(cfg config.Cache) (cache.Cache, func(), error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "off", "none", "disabled":
		return nil, func() {}, nil

	case "redis":
		r, err := cache.NewRedis(context.Background(), cache.RedisConfig{
			Addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:   cfg.Pass,
			DB:         cfg.Db,
			DefaultTTL: cfg.TTLDuration(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis cache: %w", err)
		}
		return r, func() { _ = r.Close() }, nil

	default: // memory
		m := cache.NewMemory(cfg.Capacity)
		return m, func() { _ = m.Close() }, nil
	}
}
