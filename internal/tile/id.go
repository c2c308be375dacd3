// Package tile defines the cached unit of the loader: its coordinate, its
// state flags and its decoded content.
package tile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

// MaxZoom is the deepest zoom level a coordinate may address.
const MaxZoom = 30

// ID addresses one tile in the XYZ scheme: Z is the zoom level, X and Y
// count tiles from the top-left corner and lie in [0, 2^Z).
type ID struct {
	X, Y, Z int
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.Z, id.X, id.Y)
}

// Valid reports whether the coordinate is addressable.
func (id ID) Valid() bool {
	if id.Z < 0 || id.Z > MaxZoom {
		return false
	}
	n := 1 << id.Z
	return id.X >= 0 && id.X < n && id.Y >= 0 && id.Y < n
}

// Validate returns an error wrapping tileerr.ErrIndex for invalid ids.
func (id ID) Validate() error {
	if !id.Valid() {
		return fmt.Errorf("%w: tile %s out of range", tileerr.ErrIndex, id)
	}
	return nil
}

// Parent returns the covering tile one level up. The root is its own parent.
func (id ID) Parent() ID {
	if id.Z == 0 {
		return id
	}
	return ID{X: id.X >> 1, Y: id.Y >> 1, Z: id.Z - 1}
}

// Quadrant is the child slot of id within its parent:
// bit0 is the x parity, bit1 the y parity.
func (id ID) Quadrant() int {
	return (id.X & 1) | (id.Y&1)<<1
}

// Child returns the tile in quadrant q one level down.
func (id ID) Child(q int) ID {
	return ID{X: id.X<<1 | q&1, Y: id.Y<<1 | (q>>1)&1, Z: id.Z + 1}
}

// Fraction returns the fractional tile coordinates of a WGS84 point at
// zoom. Latitudes past the mercator bound land on the outer edge of the grid
// rather than inside the first or last row.
func Fraction(lat, lon float64, zoom int) (x, y float64) {
	f := maptile.Fraction(orb.Point{lon, lat}, maptile.Zoom(zoom))
	switch {
	case lat >= maxLat:
		f[1] = 0
	case lat <= -maxLat:
		f[1] = float64(uint64(1) << zoom)
	}
	return f[0], f[1]
}

// maxLat is the bound past which maptile snaps to the first or last row.
const maxLat = 85.0511

// Project converts WGS84 degrees to web mercator pixel coordinates at zoom
// for a square tile of tileSize pixels.
func Project(lat, lon float64, zoom, tileSize int) (x, y float64) {
	fx, fy := Fraction(lat, lon, zoom)
	ts := float64(tileSize)
	return fx * ts, fy * ts
}

// At returns the tile holding a WGS84 point at zoom.
func At(lat, lon float64, zoom int) ID {
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))
	last := 1<<zoom - 1
	return ID{X: min(int(t.X), last), Y: min(int(t.Y), last), Z: int(t.Z)}
}
