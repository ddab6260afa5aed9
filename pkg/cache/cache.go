package cache

import (
	"context"
	"time"
)

// Cache is the response store contract shared by drivers.
// Values are opaque byte blobs; callers own the key format.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Close() error
}
