// Package cache defines the second-level store for raw tile payloads.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by optional operations a store lacks.
var ErrUnsupported = errors.New("operation not supported by store")

// Interface is implemented by memstore and redisstore. MGet omits missing
// keys from the result.
type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
