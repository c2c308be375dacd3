package scheduler

import (
	"fmt"
	"math"

	"github.com/mohammed-shakir/tileloader/internal/tile"
)

// Viewport is the visible map area. X and Y are the projected pixel
// coordinates of its center at Zoom; Scale magnifies within the zoom level.
type Viewport struct {
	X, Y   float64
	Zoom   int
	Scale  float64
	Width  int
	Height int
}

func (v Viewport) String() string {
	return fmt.Sprintf("z%d@(%.0f,%.0f)x%.2f %dx%d", v.Zoom, v.X, v.Y, v.Scale, v.Width, v.Height)
}

// ViewportAt centers a viewport on WGS84 coordinates.
func ViewportAt(lat, lon float64, zoom, tileSize, width, height int) Viewport {
	x, y := tile.Project(lat, lon, zoom, tileSize)
	return Viewport{X: x, Y: y, Zoom: zoom, Scale: 1, Width: width, Height: height}
}

// tileRange returns the inclusive tile rectangle covering v plus margin. It
// always holds at least the tile under the center.
func tileRange(v Viewport, tileSize int, margin float64) (x0, y0, x1, y1 int) {
	ts := float64(tileSize)
	hw := float64(v.Width)/2/v.Scale + margin
	hh := float64(v.Height)/2/v.Scale + margin
	n := 1<<v.Zoom - 1

	clamp := func(i int) int { return max(0, min(i, n)) }
	x0 = clamp(int(math.Floor((v.X - hw) / ts)))
	y0 = clamp(int(math.Floor((v.Y - hh) / ts)))
	x1 = clamp(int(math.Ceil((v.X+hw)/ts)) - 1)
	y1 = clamp(int(math.Ceil((v.Y+hh)/ts)) - 1)
	// an empty viewport on a tile boundary still covers the center tile
	x1 = max(x1, x0)
	y1 = max(y1, y0)
	return x0, y0, x1, y1
}

// distance scores id against the viewport center in pixels of v.Zoom.
// Deeper tiles are moved up exactly for small gaps and coarsely beyond,
// shallower tiles are moved down and weighted by the gap.
func distance(id tile.ID, v Viewport, tileSize int, ancestorWeight float64) float64 {
	ts := float64(tileSize)
	cx := (float64(id.X) + 0.5) * ts
	cy := (float64(id.Y) + 0.5) * ts

	switch gap := id.Z - v.Zoom; {
	case gap == 0:
		return math.Hypot(cx-v.X, cy-v.Y)
	case gap > 0:
		shift := gap
		if gap >= 3 {
			shift = gap >> 1
		}
		f := math.Exp2(float64(shift))
		return math.Hypot(cx/f-v.X, cy/f-v.Y)
	default:
		up := -gap
		f := math.Exp2(float64(up))
		return math.Hypot(cx*f-v.X, cy*f-v.Y) * (1 + float64(up)*ancestorWeight)
	}
}
