package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
}

// redisDriver stores entries in Redis with native TTL expiry.
// Entry-count bounding is left to Redis' own eviction policy; the driver
// makes no cross-node coherence promise.
type redisDriver struct {
	rdb        *redis.Client
	defaultTTL time.Duration
}

func NewRedis(ctx context.Context, cfg RedisConfig) (Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	return &redisDriver{rdb: rdb, defaultTTL: ttl}, nil
}

func (d *redisDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := d.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (d *redisDriver) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.defaultTTL
	}
	return d.rdb.Set(ctx, key, data, ttl).Err()
}

func (d *redisDriver) Close() error {
	if d == nil || d.rdb == nil {
		return nil
	}
	return d.rdb.Close()
}
