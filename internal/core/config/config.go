// Package config reads the daemon configuration from the environment and an
// optional YAML file of extra tile sources.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/tileloader/internal/netchan"
	"github.com/mohammed-shakir/tileloader/internal/scheduler"
	"github.com/mohammed-shakir/tileloader/internal/tile"
	"github.com/mohammed-shakir/tileloader/internal/tilesource"
	"github.com/mohammed-shakir/tileloader/pkg/invalidation/kafka"
)

type StoreDriver string

const (
	StoreNone   StoreDriver = "none"
	StoreMemory StoreDriver = "memory"
	StoreRedis  StoreDriver = "redis"
)

// SourceSpec is one tile source. Zero fields fall back to the TILE_*
// environment defaults.
type SourceSpec struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	PathTemplate string            `yaml:"path_template"`
	ContentType  string            `yaml:"content_type"`
	Compression  string            `yaml:"compression"`
	UserAgent    string            `yaml:"user_agent"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	StoreTTL     time.Duration     `yaml:"store_ttl"`
}

type sourcesFile struct {
	Sources []SourceSpec `yaml:"sources"`
}

type ChannelCfg struct {
	MaxRequests int
	IdleTimeout time.Duration
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

type StoreCfg struct {
	Driver    StoreDriver
	Size      int
	TTL       time.Duration
	RedisAddr string
	OpTimeout time.Duration
}

// ViewportCfg is the area the daemon keeps loaded.
type ViewportCfg struct {
	Lat, Lon      float64
	Zoom          int
	Width, Height int
	Interval      time.Duration
	// PanX moves the viewport east by this many pixels per interval.
	PanX float64
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	MetricsEnabled bool
	MetricsPath    string

	Source      SourceSpec
	SourcesFile string
	Channel     ChannelCfg
	Scheduler   scheduler.Config
	Workers     int
	Store       StoreCfg
	Viewport    ViewportCfg

	Invalidation kafka.InvalidationConfig
}

func FromEnv() Config {
	sc := scheduler.DefaultConfig()
	sc.TileSize = getint("TILE_SIZE", sc.TileSize)
	sc.CacheLimit = getint("CACHE_LIMIT", sc.CacheLimit)
	sc.CacheSlack = getint("CACHE_SLACK", sc.CacheSlack)
	sc.MaxNewData = getint("MAX_TILES_IN_QUEUE", sc.MaxNewData)
	sc.MinZoom = getint("MIN_ZOOM", sc.MinZoom)
	sc.MaxZoom = getint("MAX_ZOOM", sc.MaxZoom)
	sc.Margin = getfloat("VIEWPORT_MARGIN", sc.Margin)

	if sc.MinZoom < 0 {
		sc.MinZoom = 0
	}
	if sc.MaxZoom > tile.MaxZoom {
		sc.MaxZoom = tile.MaxZoom
	}
	if sc.MinZoom > sc.MaxZoom {
		sc.MinZoom, sc.MaxZoom = 0, tile.MaxZoom
	}

	workers := getint("WORKERS", 4)
	if workers < 1 {
		workers = 1
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),

		Source: SourceSpec{
			Name:         getenv("TILE_SOURCE_NAME", "default"),
			URL:          getenv("TILE_URL", "http://localhost:8080/tiles"),
			PathTemplate: getenv("TILE_PATH_TEMPLATE", tilesource.DefaultPathTemplate),
			ContentType:  getenv("TILE_CONTENT_TYPE", tilesource.DefaultContentType),
			Compression:  getenv("TILE_COMPRESSION", ""),
			UserAgent:    getenv("TILE_USER_AGENT", netchan.DefaultUserAgent),
			StoreTTL:     getduration("TILE_STORE_TTL", time.Hour),
		},
		SourcesFile: getenv("SOURCES_FILE", ""),
		Channel: ChannelCfg{
			MaxRequests: getint("CONN_MAX_REQUESTS", netchan.DefaultMaxRequests),
			IdleTimeout: getduration("CONN_IDLE_TIMEOUT", netchan.DefaultIdleTimeout),
			DialTimeout: getduration("CONN_DIAL_TIMEOUT", netchan.DefaultDialTimeout),
			IOTimeout:   getduration("CONN_READ_TIMEOUT", netchan.DefaultIOTimeout),
		},
		Scheduler: sc,
		Workers:   workers,
		Store: StoreCfg{
			Driver:    StoreDriver(strings.ToLower(getenv("TILE_STORE", string(StoreMemory)))),
			Size:      getint("TILE_STORE_SIZE", 4096),
			TTL:       getduration("TILE_STORE_TTL", time.Hour),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout: getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Viewport: ViewportCfg{
			Lat:      getfloat("VIEW_LAT", 53.0758),
			Lon:      getfloat("VIEW_LON", 8.8072),
			Zoom:     getint("VIEW_ZOOM", 14),
			Width:    getint("VIEW_WIDTH", 1024),
			Height:   getint("VIEW_HEIGHT", 768),
			Interval: getduration("VIEW_INTERVAL", time.Second),
			PanX:     getfloat("VIEW_PAN_X", 0),
		},
		Invalidation: kafka.FromEnv(),
	}
}

// LoadSources reads the YAML sources file. An empty path yields no sources.
func LoadSources(path string) ([]SourceSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("%s: sources[%d]: name is required", path, i)
		}
		if s.URL == "" {
			return nil, fmt.Errorf("%s: source %s: url is required", path, s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%s: duplicate source %s", path, s.Name)
		}
		seen[s.Name] = true
	}
	return f.Sources, nil
}

// TileSources merges the environment source with the sources file into
// tilesource configs. File entries inherit unset fields from the
// environment source.
func (c Config) TileSources() ([]tilesource.Config, error) {
	extra, err := LoadSources(c.SourcesFile)
	if err != nil {
		return nil, err
	}
	specs := append([]SourceSpec{c.Source}, extra...)
	out := make([]tilesource.Config, 0, len(specs))
	names := map[string]bool{}
	for _, s := range specs {
		if names[s.Name] {
			return nil, fmt.Errorf("duplicate source %s", s.Name)
		}
		names[s.Name] = true
		tc, err := c.tileSource(s)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

func (c Config) tileSource(s SourceSpec) (tilesource.Config, error) {
	def := c.Source
	if s.PathTemplate == "" {
		s.PathTemplate = def.PathTemplate
	}
	if s.ContentType == "" {
		s.ContentType = def.ContentType
	}
	if s.Compression == "" {
		s.Compression = def.Compression
	}
	if s.UserAgent == "" {
		s.UserAgent = def.UserAgent
	}
	if s.StoreTTL == 0 {
		s.StoreTTL = def.StoreTTL
	}
	comp, err := netchan.ParseCompression(s.Compression)
	if err != nil {
		return tilesource.Config{}, fmt.Errorf("source %s: %w", s.Name, err)
	}
	return tilesource.Config{
		Name:         s.Name,
		URL:          s.URL,
		PathTemplate: s.PathTemplate,
		ContentType:  s.ContentType,
		Compression:  comp,
		UserAgent:    s.UserAgent,
		Headers:      s.Headers,
		TileSize:     c.Scheduler.TileSize,
		StoreTTL:     s.StoreTTL,
		MaxRequests:  c.Channel.MaxRequests,
		IdleTimeout:  c.Channel.IdleTimeout,
		DialTimeout:  c.Channel.DialTimeout,
		IOTimeout:    c.Channel.IOTimeout,
	}, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
