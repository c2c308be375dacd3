// Package invalidation turns tile invalidation events into store deletes and
// stale marks on the loaded tile cache.
package invalidation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/tileloader/internal/tile"
)

// ErrTooManyTiles is returned by Tiles when the affected area exceeds the
// requested limit.
var ErrTooManyTiles = errors.New("too many tiles")

type Event struct {
	Version uint64    `json:"version"`
	Source  string    `json:"source,omitempty"`
	TS      time.Time `json:"ts"`

	BBox    *BBox `json:"bbox,omitempty"`
	MinZoom int   `json:"min_zoom,omitempty"`
	MaxZoom int   `json:"max_zoom,omitempty"`

	// TileList holds "z/x/y" coordinates.
	TileList []string `json:"tiles,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	hasBBox := e.BBox != nil
	hasTiles := len(e.TileList) > 0
	if hasBBox == hasTiles {
		return fmt.Errorf("exactly one of bbox or tiles is required")
	}
	if hasTiles {
		for _, s := range e.TileList {
			if _, err := ParseTile(s); err != nil {
				return err
			}
		}
		return nil
	}
	bb := *e.BBox
	if bb.SRID != "EPSG:4326" {
		return fmt.Errorf("bbox.srid must be EPSG:4326")
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
		return fmt.Errorf("bbox must satisfy x2>x1 and y2>y1")
	}
	if e.MinZoom < 0 || e.MaxZoom > tile.MaxZoom || e.MinZoom > e.MaxZoom {
		return fmt.Errorf("zoom range must satisfy 0<=min_zoom<=max_zoom<=%d", tile.MaxZoom)
	}
	return nil
}

// ParseTile parses "z/x/y".
func ParseTile(s string) (tile.ID, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return tile.ID{}, fmt.Errorf("tile %q: want z/x/y", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return tile.ID{}, fmt.Errorf("tile %q: %w", s, err)
		}
		v[i] = n
	}
	id := tile.ID{Z: v[0], X: v[1], Y: v[2]}
	if err := id.Validate(); err != nil {
		return tile.ID{}, fmt.Errorf("tile %q: %w", s, err)
	}
	return id, nil
}

// Range is an inclusive block of tiles on one zoom level.
type Range struct {
	Z          int
	MinX, MinY int
	MaxX, MaxY int
}

func (r Range) Contains(id tile.ID) bool {
	return id.Z == r.Z && id.X >= r.MinX && id.X <= r.MaxX && id.Y >= r.MinY && id.Y <= r.MaxY
}

func (r Range) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Ranges covers the bbox on every zoom in [MinZoom, MaxZoom]. It is empty
// for tile list events.
func (e Event) Ranges() []Range {
	if e.BBox == nil {
		return nil
	}
	out := make([]Range, 0, e.MaxZoom-e.MinZoom+1)
	for z := e.MinZoom; z <= e.MaxZoom; z++ {
		nw := tile.At(e.BBox.Y2, e.BBox.X1, z)
		// an east or south edge on a tile boundary does not reach into the
		// next tile
		x1, y1 := tile.Fraction(e.BBox.Y1, e.BBox.X2, z)
		last := 1<<z - 1
		out = append(out, Range{
			Z:    z,
			MinX: nw.X,
			MinY: nw.Y,
			MaxX: clamp(int(math.Ceil(x1))-1, nw.X, last),
			MaxY: clamp(int(math.Ceil(y1))-1, nw.Y, last),
		})
	}
	return out
}

// Tiles lists the affected tiles. It fails with ErrTooManyTiles when more
// than limit tiles are covered; limit <= 0 means unlimited.
func (e Event) Tiles(limit int) ([]tile.ID, error) {
	if e.BBox == nil {
		out := make([]tile.ID, 0, len(e.TileList))
		for _, s := range e.TileList {
			id, err := ParseTile(s)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	}
	ranges := e.Ranges()
	total := 0
	for _, r := range ranges {
		total += r.Count()
		if limit > 0 && total > limit {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyTiles, limit)
		}
	}
	out := make([]tile.ID, 0, total)
	for _, r := range ranges {
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				out = append(out, tile.ID{X: x, Y: y, Z: r.Z})
			}
		}
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
