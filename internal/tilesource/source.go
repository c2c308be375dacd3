// Package tilesource turns a tile coordinate into decoded content: it checks
// the second-level store, fetches the payload over a netchan.Channel and
// decodes it.
package tilesource

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/tileloader/internal/cache"
	"github.com/mohammed-shakir/tileloader/internal/cache/keys"
	"github.com/mohammed-shakir/tileloader/internal/codec/vectortile"
	"github.com/mohammed-shakir/tileloader/internal/netchan"
	"github.com/mohammed-shakir/tileloader/internal/tile"
)

const DefaultContentType = "application/x-protobuf"

type Config struct {
	Name         string
	URL          string
	PathTemplate string
	ContentType  string
	Compression  netchan.Compression
	UserAgent    string
	Headers      map[string]string

	// TileSize is the pixel size coordinates are scaled to.
	TileSize int
	StoreTTL time.Duration

	MaxRequests int
	IdleTimeout time.Duration
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

func (c Config) channelConfig() netchan.Config {
	return netchan.Config{
		Source:      c.Name,
		URL:         c.URL,
		UserAgent:   c.UserAgent,
		ContentType: c.ContentType,
		Headers:     c.Headers,
		Compression: c.Compression,
		MaxRequests: c.MaxRequests,
		IdleTimeout: c.IdleTimeout,
		DialTimeout: c.DialTimeout,
		IOTimeout:   c.IOTimeout,
	}
}

type Option func(*Source)

// WithStore enables the second-level payload store.
func WithStore(s cache.Interface) Option {
	return func(src *Source) { src.store = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(src *Source) { src.log = l }
}

// WithChannelOptions is passed to every channel a loader opens.
func WithChannelOptions(opts ...netchan.Option) Option {
	return func(src *Source) { src.chanOpts = append(src.chanOpts, opts...) }
}

// WithDecoder replaces the payload decoder.
func WithDecoder(d *vectortile.Decoder) Option {
	return func(src *Source) { src.dec = d }
}

// Source is shared by all workers; each worker owns one Loader.
type Source struct {
	cfg      Config
	tmpl     Template
	store    cache.Interface
	dec      *vectortile.Decoder
	log      *slog.Logger
	chanOpts []netchan.Option
}

func New(cfg Config, opts ...Option) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tile source %q: url is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	tmpl, err := ParseTemplate(cfg.PathTemplate)
	if err != nil {
		return nil, fmt.Errorf("tile source %q: %w", cfg.Name, err)
	}
	s := &Source{cfg: cfg, tmpl: tmpl, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.dec == nil {
		s.dec = vectortile.New(cfg.TileSize)
	}
	s.log = s.log.With("source", cfg.Name)

	// fail fast on a bad url rather than in the first worker
	if _, err := netchan.New(cfg.channelConfig(), s.chanOpts...); err != nil {
		return nil, fmt.Errorf("tile source %q: %w", cfg.Name, err)
	}
	return s, nil
}

func (s *Source) Name() string { return s.cfg.Name }

func (s *Source) Store() cache.Interface { return s.store }

// Key is the second-level store key of id.
func (s *Source) Key(id tile.ID) (string, error) { return keys.Key(s.cfg.Name, s.cfg.URL, id) }

// Path is the request path of id below the base url.
func (s *Source) Path(id tile.ID) string { return s.tmpl.Format(id) }

// NewLoader opens a loader with its own channel. The socket is connected
// lazily on the first request.
func (s *Source) NewLoader() (*Loader, error) {
	ch, err := netchan.New(s.cfg.channelConfig(), append([]netchan.Option{netchan.WithLogger(s.log)}, s.chanOpts...)...)
	if err != nil {
		return nil, err
	}
	return &Loader{src: s, ch: ch}, nil
}
