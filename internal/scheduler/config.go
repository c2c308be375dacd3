package scheduler

import "github.com/mohammed-shakir/tileloader/internal/tile"

// Config tunes the scheduling pass. Zero values are replaced by the
// defaults of DefaultConfig except Margin, CacheSlack and MinZoom, where
// zero is meaningful.
type Config struct {
	TileSize int

	// CacheLimit is the number of indexed tiles kept after eviction.
	// Eviction only starts once the count exceeds CacheLimit+CacheSlack.
	CacheLimit int
	CacheSlack int

	// MaxNewData caps tiles that were decoded but not yet consumed.
	MaxNewData int

	MinZoom int
	MaxZoom int

	// Margin is the extra pixel border loaded around the viewport.
	Margin float64
	// MoveThreshold is the center shift in pixels that triggers a pass.
	MoveThreshold float64
	// ScaleThreshold is the scale change that triggers a pass.
	ScaleThreshold float64
	// ParentPrefetchScale is the scale above which zooming out within a
	// zoom level also queues parent tiles.
	ParentPrefetchScale float64
	// AncestorWeight multiplies the distance of a shallower tile by
	// 1 + gap*AncestorWeight. It must be positive.
	AncestorWeight float64
	// ProxyLevels bounds the proxy search during eviction, up and down.
	ProxyLevels int
}

func DefaultConfig() Config {
	return Config{
		TileSize:            256,
		CacheLimit:          200,
		CacheSlack:          10,
		MaxNewData:          40,
		MinZoom:             0,
		MaxZoom:             20,
		Margin:              256,
		MoveThreshold:       256,
		ScaleThreshold:      0.2,
		ParentPrefetchScale: 1.2,
		AncestorWeight:      0.5,
		ProxyLevels:         3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TileSize <= 0 {
		c.TileSize = d.TileSize
	}
	if c.CacheLimit <= 0 {
		c.CacheLimit = d.CacheLimit
	}
	if c.CacheSlack < 0 {
		c.CacheSlack = 0
	}
	if c.MaxNewData <= 0 {
		c.MaxNewData = d.MaxNewData
	}
	c.MinZoom = max(0, min(c.MinZoom, tile.MaxZoom))
	if c.MaxZoom <= 0 || c.MaxZoom > tile.MaxZoom {
		c.MaxZoom = tile.MaxZoom
	}
	c.MaxZoom = max(c.MaxZoom, c.MinZoom)
	if c.Margin < 0 {
		c.Margin = 0
	}
	if c.MoveThreshold <= 0 {
		c.MoveThreshold = float64(c.TileSize)
	}
	if c.ScaleThreshold <= 0 {
		c.ScaleThreshold = d.ScaleThreshold
	}
	if c.ParentPrefetchScale <= 0 {
		c.ParentPrefetchScale = d.ParentPrefetchScale
	}
	if c.AncestorWeight <= 0 {
		c.AncestorWeight = d.AncestorWeight
	}
	if c.ProxyLevels <= 0 {
		c.ProxyLevels = d.ProxyLevels
	}
	return c
}
