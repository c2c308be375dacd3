package invalidation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/tileloader/internal/tile"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func bboxEvent(x1, y1, x2, y2 float64, minZ, maxZ int) Event {
	return Event{
		Version: 1, TS: mustTS(),
		BBox:    &BBox{X1: x1, Y1: y1, X2: x2, Y2: y2, SRID: "EPSG:4326"},
		MinZoom: minZ, MaxZoom: maxZ,
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"bbox ok", func(*Event) {}, false},
		{"tiles ok", func(e *Event) { e.BBox = nil; e.TileList = []string{"3/1/2", "0/0/0"} }, false},
		{"both", func(e *Event) { e.TileList = []string{"0/0/0"} }, true},
		{"neither", func(e *Event) { e.BBox = nil }, true},
		{"no version", func(e *Event) { e.Version = 0 }, true},
		{"no ts", func(e *Event) { e.TS = time.Time{} }, true},
		{"srid", func(e *Event) { e.BBox.SRID = "EPSG:3857" }, true},
		{"longitude", func(e *Event) { e.BBox.X2 = 181 }, true},
		{"latitude", func(e *Event) { e.BBox.Y1 = -91 }, true},
		{"inverted", func(e *Event) { e.BBox.X1, e.BBox.X2 = e.BBox.X2, e.BBox.X1 }, true},
		{"zoom order", func(e *Event) { e.MinZoom, e.MaxZoom = 5, 4 }, true},
		{"zoom max", func(e *Event) { e.MaxZoom = tile.MaxZoom + 1 }, true},
		{"bad tile", func(e *Event) { e.BBox = nil; e.TileList = []string{"1/2"} }, true},
		{"tile out of range", func(e *Event) { e.BBox = nil; e.TileList = []string{"1/2/0"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := bboxEvent(11, 55, 12, 56, 0, 4)
			tt.mutate(&ev)
			err := ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate()=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTile(t *testing.T) {
	id, err := ParseTile(" 4/3/9 ")
	if err != nil {
		t.Fatalf("ParseTile: %v", err)
	}
	if want := (tile.ID{X: 3, Y: 9, Z: 4}); id != want {
		t.Fatalf("got=%v want=%v", id, want)
	}
	if _, err := ParseTile("4/x/9"); err == nil {
		t.Fatalf("expected error for non-numeric tile")
	}
}

func TestEvent_TilesForBBox(t *testing.T) {
	ev := bboxEvent(0, 0, 1, 1, 0, 2)
	got, err := ev.Tiles(0)
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	want := []tile.ID{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 1}, {X: 2, Y: 1, Z: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tiles mismatch (-want +got):\n%s", diff)
	}

	if _, err := ev.Tiles(2); !errors.Is(err, ErrTooManyTiles) {
		t.Fatalf("Tiles(2) err=%v want ErrTooManyTiles", err)
	}
}

func TestEvent_WorldCoversWholeLevel(t *testing.T) {
	ev := bboxEvent(-180, -85, 180, 85, 3, 3)
	rs := ev.Ranges()
	if len(rs) != 1 {
		t.Fatalf("ranges=%d want 1", len(rs))
	}
	if want := (Range{Z: 3, MinX: 0, MinY: 0, MaxX: 7, MaxY: 7}); rs[0] != want {
		t.Fatalf("range=%+v want %+v", rs[0], want)
	}
	if rs[0].Count() != 64 {
		t.Fatalf("count=%d want 64", rs[0].Count())
	}
}

func TestEvent_PolarBBoxReachesGridEdges(t *testing.T) {
	ev := bboxEvent(-180, -90, 180, 90, 30, 30)
	rs := ev.Ranges()
	last := 1<<30 - 1
	if want := (Range{Z: 30, MinX: 0, MinY: 0, MaxX: last, MaxY: last}); rs[0] != want {
		t.Fatalf("range=%+v want %+v", rs[0], want)
	}
}

func TestMatcher(t *testing.T) {
	bbox := matcher(bboxEvent(0, 0, 1, 1, 1, 2))
	for id, want := range map[tile.ID]bool{
		{X: 0, Y: 0, Z: 0}: false,
		{X: 1, Y: 0, Z: 1}: true,
		{X: 0, Y: 0, Z: 1}: false,
		{X: 2, Y: 1, Z: 2}: true,
		{X: 4, Y: 3, Z: 3}: false,
	} {
		if got := bbox(id); got != want {
			t.Fatalf("bbox match %v=%v want %v", id, got, want)
		}
	}

	list := matcher(Event{TileList: []string{"2/1/3"}})
	if !list(tile.ID{X: 1, Y: 3, Z: 2}) || list(tile.ID{X: 3, Y: 1, Z: 2}) {
		t.Fatalf("tile list matcher mismatch")
	}
}
