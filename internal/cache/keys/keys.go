// Package keys builds second-level store keys for tiles.
package keys

import (
	"fmt"
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/google/hilbert"

	"github.com/mohammed-shakir/tileloader/internal/tile"
	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

// TileCode numbers tiles along a Hilbert curve per zoom level, offset by
// the number of tiles on all shallower levels, so codes are unique across
// zooms and neighbouring tiles get close codes.
func TileCode(id tile.ID) (uint64, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}
	h, err := hilbert.NewHilbert(1 << id.Z)
	if err != nil {
		return 0, fmt.Errorf("tile %s: %w", id, err)
	}
	code, err := h.MapInverse(id.X, id.Y)
	if err != nil {
		return 0, fmt.Errorf("tile %s: %w", id, err)
	}
	shallower := (1<<(id.Z*2) - 1) / 3
	return uint64(code + shallower), nil
}

// DecodeTileCode is the inverse of TileCode.
func DecodeTileCode(code uint64) (tile.ID, error) {
	// codes of all tiles up to MaxZoom
	const limit = (1<<((tile.MaxZoom+1)*2) - 1) / 3
	if code >= limit {
		return tile.ID{}, fmt.Errorf("%w: tile code %d beyond zoom %d", tileerr.ErrIndex, code, tile.MaxZoom)
	}
	z := (bits.Len64(3*code+1) - 1) / 2
	shallower := (1<<(z*2) - 1) / 3
	h, err := hilbert.NewHilbert(1 << z)
	if err != nil {
		return tile.ID{}, fmt.Errorf("tile code %d: %w", code, err)
	}
	x, y, err := h.Map(int(code) - shallower)
	if err != nil {
		return tile.ID{}, fmt.Errorf("tile code %d: %w", code, err)
	}
	return tile.ID{X: x, Y: y, Z: z}, nil
}

// Key is "<source>:<z>:<tilecode hex>:s=<hash of source url>".
func Key(source, url string, id tile.ID) (string, error) {
	code, err := TileCode(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%x:s=%016x", sanitize(strings.TrimSpace(source)), id.Z, code, xxhash.Sum64String(url)), nil
}

// ZoomPattern matches every key of source at zoom z, for any source url.
func ZoomPattern(source string, z int) string {
	return fmt.Sprintf("%s:%d:*", sanitize(strings.TrimSpace(source)), z)
}

func sanitize(s string) string {
	if s == "" {
		return "default"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
