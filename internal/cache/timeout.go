package cache

import (
	"context"
	"time"
)

type timeoutStore struct {
	next Interface
	d    time.Duration
}

// WithTimeout bounds every operation on s by d. d <= 0 returns s.
func WithTimeout(s Interface, d time.Duration) Interface {
	if d <= 0 || s == nil {
		return s
	}
	return &timeoutStore{next: s, d: d}
}

func (t *timeoutStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.MGet(ctx, keys)
}

func (t *timeoutStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Set(ctx, key, val, ttl)
}

func (t *timeoutStore) Del(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Del(ctx, keys...)
}

// DelMatch forwards to the wrapped store when it supports pattern deletes.
func (t *timeoutStore) DelMatch(ctx context.Context, pattern string) (int, error) {
	md, ok := t.next.(interface {
		DelMatch(ctx context.Context, pattern string) (int, error)
	})
	if !ok {
		return 0, ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return md.DelMatch(ctx, pattern)
}
