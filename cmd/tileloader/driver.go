package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/tileloader/internal/core/config"
	"github.com/mohammed-shakir/tileloader/internal/scheduler"
	"github.com/mohammed-shakir/tileloader/internal/tile"
)

// drive keeps the manager's viewport current and lets the consumer take
// published tiles whenever the manager signals an update.
func drive(ctx context.Context, vc config.ViewportCfg, tileSize int, m *scheduler.Manager, c *consumer) {
	v := scheduler.ViewportAt(vc.Lat, vc.Lon, vc.Zoom, tileSize, vc.Width, vc.Height)
	interval := vc.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	m.Update(v)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.Updates():
			c.sync()
		case <-t.C:
			v.X += vc.PanX
			if m.Update(v) {
				c.sync()
			}
		}
	}
}

// consumer stands in for a renderer: it takes new tile data and keeps every
// visible tile marked active, loaded or not, so loaded neighbours can act
// as proxies while it loads.
type consumer struct {
	m      *scheduler.Manager
	log    *slog.Logger
	active map[tile.ID]bool
	taken  int
}

func newConsumer(m *scheduler.Manager, log *slog.Logger) *consumer {
	return &consumer{m: m, log: log, active: map[tile.ID]bool{}}
}

func (c *consumer) sync() {
	for _, r := range c.m.TakeNewData(0) {
		c.taken++
		c.log.Debug("tile taken", "tile", r.ID.String(), "elements", len(r.Content.Elements))
	}

	want := map[tile.ID]bool{}
	for _, ti := range c.m.VisibleTiles() {
		want[ti.ID] = true
	}
	for id := range c.active {
		if !want[id] {
			c.m.SetActive(id, false)
			delete(c.active, id)
		}
	}
	for id := range want {
		if !c.active[id] && c.m.SetActive(id, true) {
			c.active[id] = true
		}
	}
}
