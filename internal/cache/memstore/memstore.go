// Package memstore is an in-process payload store backed by an expiring LRU.
package memstore

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/tileloader/internal/core/observability"
)

const DefaultSize = 4096

type Store struct {
	lru *expirable.LRU[string, []byte]
}

// New keeps at most size payloads for ttl each. ttl <= 0 disables expiry.
// The per-call ttl of Set is ignored; every entry shares the store ttl.
func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	return &Store{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveStoreOp("mget", err, time.Since(start).Seconds())
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.lru.Get(k); ok {
			out[k] = v
		}
	}
	observability.ObserveStoreOp("mget", nil, time.Since(start).Seconds())
	observability.AddStoreHits(len(out))
	observability.AddStoreMisses(len(keys) - len(out))
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	s.lru.Add(key, val)
	observability.ObserveStoreOp("set", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	for _, k := range keys {
		s.lru.Remove(k)
	}
	observability.ObserveStoreOp("del", nil, time.Since(start).Seconds())
	return nil
}

// DelMatch removes every key matching the glob pattern.
func (s *Store) DelMatch(ctx context.Context, pattern string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	n := 0
	for _, k := range s.lru.Keys() {
		ok, err := path.Match(pattern, k)
		if err != nil {
			observability.ObserveStoreOp("scan", err, time.Since(start).Seconds())
			return n, fmt.Errorf("match %q: %w", pattern, err)
		}
		if ok && s.lru.Remove(k) {
			n++
		}
	}
	observability.ObserveStoreOp("scan", nil, time.Since(start).Seconds())
	return n, nil
}

func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) Purge() { s.lru.Purge() }
