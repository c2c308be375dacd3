package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/tileloader/internal/netchan"
	"github.com/mohammed-shakir/tileloader/internal/tile"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.Workers != 4 {
		t.Fatalf("addr=%q workers=%d", cfg.Addr, cfg.Workers)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Fatalf("store driver=%q want memory", cfg.Store.Driver)
	}
	if cfg.Scheduler.TileSize != 256 || cfg.Scheduler.MaxZoom != 20 {
		t.Fatalf("scheduler=%+v", cfg.Scheduler)
	}
	if cfg.Channel.MaxRequests != netchan.DefaultMaxRequests {
		t.Fatalf("max requests=%d", cfg.Channel.MaxRequests)
	}
}

func TestFromEnv_OverridesAndClamps(t *testing.T) {
	t.Setenv("TILE_URL", "http://tiles.example:8080/v4")
	t.Setenv("CACHE_LIMIT", "500")
	t.Setenv("MAX_TILES_IN_QUEUE", "12")
	t.Setenv("MIN_ZOOM", "-3")
	t.Setenv("MAX_ZOOM", "99")
	t.Setenv("WORKERS", "0")
	t.Setenv("CONN_IDLE_TIMEOUT", "3s")
	t.Setenv("TILE_STORE", "Redis")
	t.Setenv("LOG_CONSOLE", "yes")
	t.Setenv("CACHE_SLACK", "not-a-number")

	cfg := FromEnv()
	if cfg.Source.URL != "http://tiles.example:8080/v4" {
		t.Fatalf("url=%q", cfg.Source.URL)
	}
	if cfg.Scheduler.CacheLimit != 500 || cfg.Scheduler.MaxNewData != 12 || cfg.Scheduler.CacheSlack != 10 {
		t.Fatalf("scheduler=%+v", cfg.Scheduler)
	}
	if cfg.Scheduler.MinZoom != 0 || cfg.Scheduler.MaxZoom != tile.MaxZoom {
		t.Fatalf("zoom range=%d..%d", cfg.Scheduler.MinZoom, cfg.Scheduler.MaxZoom)
	}
	if cfg.Workers != 1 {
		t.Fatalf("workers=%d want 1", cfg.Workers)
	}
	if cfg.Channel.IdleTimeout != 3*time.Second {
		t.Fatalf("idle=%v", cfg.Channel.IdleTimeout)
	}
	if cfg.Store.Driver != StoreRedis || !cfg.LogConsole {
		t.Fatalf("store=%q console=%v", cfg.Store.Driver, cfg.LogConsole)
	}
}

func TestLoadSources(t *testing.T) {
	p := writeFile(t, `
sources:
  - name: topo
    url: http://topo.example/tiles
    path_template: /{z}/{x}/{y}.pbf
    compression: gzip
    store_ttl: 10m
    headers:
      X-Api-Key: secret
  - name: sat
    url: http://sat.example
`)
	got, err := LoadSources(p)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	want := []SourceSpec{
		{
			Name: "topo", URL: "http://topo.example/tiles", PathTemplate: "/{z}/{x}/{y}.pbf",
			Compression: "gzip", StoreTTL: 10 * time.Minute,
			Headers: map[string]string{"X-Api-Key": "secret"},
		},
		{Name: "sat", URL: "http://sat.example"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSources_Errors(t *testing.T) {
	tests := map[string]string{
		"missing name": "sources:\n  - url: http://a\n",
		"missing url":  "sources:\n  - name: a\n",
		"duplicate":    "sources:\n  - {name: a, url: http://a}\n  - {name: a, url: http://b}\n",
		"bad yaml":     "sources: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadSources(writeFile(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := LoadSources(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if got, err := LoadSources(""); err != nil || got != nil {
		t.Fatalf("empty path: got=%v err=%v", got, err)
	}
}

func TestTileSources_InheritDefaults(t *testing.T) {
	t.Setenv("TILE_COMPRESSION", "deflate")
	cfg := FromEnv()
	cfg.SourcesFile = writeFile(t, "sources:\n  - {name: topo, url: http://topo.example, compression: gzip}\n  - {name: sat, url: http://sat.example}\n")

	got, err := cfg.TileSources()
	if err != nil {
		t.Fatalf("TileSources: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("sources=%d want 3", len(got))
	}
	if got[0].Name != "default" || got[0].Compression != netchan.CompressionDeflate {
		t.Fatalf("env source=%+v", got[0])
	}
	if got[1].Compression != netchan.CompressionGzip || got[2].Compression != netchan.CompressionDeflate {
		t.Fatalf("compression topo=%q sat=%q", got[1].Compression, got[2].Compression)
	}
	if got[2].StoreTTL != time.Hour || got[2].TileSize != 256 || got[2].PathTemplate != cfg.Source.PathTemplate {
		t.Fatalf("sat did not inherit defaults: %+v", got[2])
	}

	cfg.SourcesFile = writeFile(t, "sources:\n  - {name: default, url: http://dup}\n")
	if _, err := cfg.TileSources(); err == nil {
		t.Fatalf("expected duplicate source error")
	}
	cfg.SourcesFile = writeFile(t, "sources:\n  - {name: x, url: http://x, compression: brotli}\n")
	if _, err := cfg.TileSources(); err == nil {
		t.Fatalf("expected compression error")
	}
}
