package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/tileloader/internal/cache"
	"github.com/mohammed-shakir/tileloader/internal/cache/keys"
	"github.com/mohammed-shakir/tileloader/internal/tile"
)

// DefaultMaxKeys bounds how many store keys one event may delete one by one.
// Larger areas fall back to pattern deletes per zoom level.
const DefaultMaxKeys = 65536

const delBatch = 512

// Source is the part of a tile source an invalidation touches.
type Source interface {
	Name() string
	Key(id tile.ID) (string, error)
	Store() cache.Interface
}

// Tiles is implemented by the scheduler manager.
type Tiles interface {
	InvalidateFunc(match func(tile.ID) bool) int
}

type matchDeleter interface {
	DelMatch(ctx context.Context, pattern string) (int, error)
}

// Binding ties a source to the manager caching its tiles.
type Binding struct {
	Source Source
	Tiles  Tiles
}

type Result struct {
	Keys  int
	Stale int
}

type Applier struct {
	log      *slog.Logger
	bindings []Binding
	maxKeys  int
}

type Option func(*Applier)

func WithLogger(l *slog.Logger) Option { return func(a *Applier) { a.log = l } }

// WithMaxKeys sets the per-event key delete bound. Non-positive values keep
// DefaultMaxKeys.
func WithMaxKeys(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.maxKeys = n
		}
	}
}

func NewApplier(bindings []Binding, opts ...Option) *Applier {
	a := &Applier{
		log:      slog.Default(),
		bindings: bindings,
		maxKeys:  DefaultMaxKeys,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Apply deletes the stored payloads covered by ev and marks the matching
// loaded tiles stale. An empty ev.Source addresses every source.
func (a *Applier) Apply(ctx context.Context, ev Event) (Result, error) {
	var res Result
	if err := ev.Validate(); err != nil {
		return res, fmt.Errorf("validate: %w", err)
	}
	match := matcher(ev)
	for _, b := range a.bindings {
		if ev.Source != "" && ev.Source != b.Source.Name() {
			continue
		}
		n, err := a.deleteStored(ctx, b.Source, ev)
		res.Keys += n
		if err != nil {
			return res, fmt.Errorf("source %s: %w", b.Source.Name(), err)
		}
		if b.Tiles != nil {
			res.Stale += b.Tiles.InvalidateFunc(match)
		}
	}
	a.log.DebugContext(ctx, "invalidation applied",
		"source", ev.Source, "version", ev.Version, "keys", res.Keys, "stale", res.Stale)
	return res, nil
}

func (a *Applier) deleteStored(ctx context.Context, src Source, ev Event) (int, error) {
	store := src.Store()
	if store == nil {
		return 0, nil
	}
	ids, err := ev.Tiles(a.maxKeys)
	if errors.Is(err, ErrTooManyTiles) {
		md, ok := store.(matchDeleter)
		if !ok {
			a.unsupported(ctx, src, ev)
			return 0, nil
		}
		total := 0
		for z := ev.MinZoom; z <= ev.MaxZoom; z++ {
			n, err := md.DelMatch(ctx, keys.ZoomPattern(src.Name(), z))
			total += n
			if errors.Is(err, cache.ErrUnsupported) {
				a.unsupported(ctx, src, ev)
				return total, nil
			}
			if err != nil {
				return total, fmt.Errorf("delete zoom %d: %w", z, err)
			}
		}
		return total, nil
	}
	if err != nil {
		return 0, err
	}

	ks := make([]string, 0, min(len(ids), delBatch))
	deleted := 0
	flush := func() error {
		if len(ks) == 0 {
			return nil
		}
		if err := store.Del(ctx, ks...); err != nil {
			return fmt.Errorf("delete %d keys: %w", len(ks), err)
		}
		deleted += len(ks)
		ks = ks[:0]
		return nil
	}
	for _, id := range ids {
		k, err := src.Key(id)
		if err != nil {
			return deleted, err
		}
		ks = append(ks, k)
		if len(ks) == delBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (a *Applier) unsupported(ctx context.Context, src Source, ev Event) {
	a.log.WarnContext(ctx, "invalidation area too large for store, payloads kept until expiry",
		"source", src.Name(), "min_zoom", ev.MinZoom, "max_zoom", ev.MaxZoom)
}

func matcher(ev Event) func(tile.ID) bool {
	if ev.BBox == nil {
		set := make(map[tile.ID]struct{}, len(ev.TileList))
		for _, s := range ev.TileList {
			if id, err := ParseTile(s); err == nil {
				set[id] = struct{}{}
			}
		}
		return func(id tile.ID) bool {
			_, ok := set[id]
			return ok
		}
	}
	ranges := ev.Ranges()
	return func(id tile.ID) bool {
		if id.Z < ev.MinZoom || id.Z > ev.MaxZoom {
			return false
		}
		return ranges[id.Z-ev.MinZoom].Contains(id)
	}
}
