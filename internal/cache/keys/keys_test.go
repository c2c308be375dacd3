package keys

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/mohammed-shakir/tileloader/internal/tile"
	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

func code(t *testing.T, id tile.ID) uint64 {
	t.Helper()
	c, err := TileCode(id)
	if err != nil {
		t.Fatalf("TileCode(%s): %v", id, err)
	}
	return c
}

func key(t *testing.T, source, url string, id tile.ID) string {
	t.Helper()
	k, err := Key(source, url, id)
	if err != nil {
		t.Fatalf("Key(%s): %v", id, err)
	}
	return k
}

func TestTileCode_RoundTripAndOffsets(t *testing.T) {
	if c := code(t, tile.ID{}); c != 0 {
		t.Fatalf("root code=%d want 0", c)
	}
	// zoom 1 starts after the single zoom 0 tile, zoom 2 after 1+4 tiles.
	if c := code(t, tile.ID{X: 0, Y: 0, Z: 1}); c != 1 {
		t.Fatalf("first z1 code=%d want 1", c)
	}
	if c := code(t, tile.ID{X: 0, Y: 0, Z: 2}); c != 5 {
		t.Fatalf("first z2 code=%d want 5", c)
	}

	seen := map[uint64]tile.ID{}
	for z := 0; z <= 4; z++ {
		n := 1 << z
		for x := range n {
			for y := range n {
				id := tile.ID{X: x, Y: y, Z: z}
				c := code(t, id)
				if prev, dup := seen[c]; dup {
					t.Fatalf("code %d shared by %s and %s", c, prev, id)
				}
				seen[c] = id
				if got, err := DecodeTileCode(c); err != nil || got != id {
					t.Fatalf("DecodeTileCode(%d)=%s,%v want %s", c, got, err, id)
				}
			}
		}
	}
}

func TestTileCode_DeepZoom(t *testing.T) {
	id := tile.ID{X: 562949, Y: 343997, Z: 20}
	if got, err := DecodeTileCode(code(t, id)); err != nil || got != id {
		t.Fatalf("round trip=%s,%v want %s", got, err, id)
	}
}

func TestTileCode_RejectsInvalidIDs(t *testing.T) {
	for _, id := range []tile.ID{
		{X: 4, Y: 0, Z: 2},
		{X: 0, Y: -1, Z: 3},
		{X: 0, Y: 0, Z: -1},
		{X: 0, Y: 0, Z: tile.MaxZoom + 1},
	} {
		if _, err := TileCode(id); !errors.Is(err, tileerr.ErrIndex) {
			t.Fatalf("TileCode(%s) err=%v want ErrIndex", id, err)
		}
		if k, err := Key("osm", "http://a/tiles", id); err == nil {
			t.Fatalf("Key(%s)=%q, want error", id, k)
		}
	}
	if _, err := DecodeTileCode(1 << 63); !errors.Is(err, tileerr.ErrIndex) {
		t.Fatalf("DecodeTileCode(2^63) err=%v want ErrIndex", err)
	}
}

func TestKey_DeterministicAndSafe(t *testing.T) {
	id := tile.ID{X: 17, Y: 10, Z: 5}
	k1 := key(t, " osm vector ", "http://a/tiles", id)
	k2 := key(t, "osm vector", "http://a/tiles", id)
	if k1 != k2 {
		t.Fatalf("keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_=\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
	if !regexp.MustCompile(`^osm_vector:5:[0-9a-f]+:s=[0-9a-f]{16}$`).MatchString(k1) {
		t.Fatalf("unexpected key layout: %s", k1)
	}
}

func TestKey_DistinguishesSourcesAndTiles(t *testing.T) {
	id := tile.ID{X: 1, Y: 2, Z: 3}
	base := key(t, "osm", "http://a/tiles", id)
	for name, other := range map[string]string{
		"url":  key(t, "osm", "http://b/tiles", id),
		"name": key(t, "göteborg", "http://a/tiles", id),
		"tile": key(t, "osm", "http://a/tiles", tile.ID{X: 2, Y: 1, Z: 3}),
		"zoom": key(t, "osm", "http://a/tiles", id.Parent()),
	} {
		if other == base {
			t.Fatalf("%s: keys collide: %s", name, base)
		}
	}
	if k := key(t, "", "u", id); k[:8] != "default:" {
		t.Fatalf("empty source key=%s", k)
	}
}

func TestZoomPattern(t *testing.T) {
	id := tile.ID{X: 3, Y: 1, Z: 4}
	if got, want := ZoomPattern(" osm vector ", 4), "osm_vector:4:*"; got != want {
		t.Fatalf("pattern=%q want %q", got, want)
	}
	k := key(t, "osm vector", "http://a/tiles", id)
	if !strings.HasPrefix(k, strings.TrimSuffix(ZoomPattern("osm vector", 4), "*")) {
		t.Fatalf("key %s does not match pattern prefix", k)
	}
}
