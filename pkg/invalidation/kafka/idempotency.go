package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// versionDedupe remembers the newest version applied per source.
type versionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newVersionDedupe(size int) *versionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &versionDedupe{lru: c}
}

// fresh reports whether v is newer than the last version committed for
// source.
func (d *versionDedupe) fresh(source string, v uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(dedupeKey(source))
	return !ok || v > last
}

func (d *versionDedupe) commit(source string, v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := dedupeKey(source)
	if last, ok := d.lru.Get(k); ok && last >= v {
		return
	}
	d.lru.Add(k, v)
}

func dedupeKey(source string) string {
	if source == "" {
		return "*"
	}
	return source
}
