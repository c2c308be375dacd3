package scheduler

import (
	"slices"

	"github.com/mohammed-shakir/tileloader/internal/core/observability"
	"github.com/mohammed-shakir/tileloader/internal/tile"
)

// limitCache removes up to surplus tiles. Tiles without any state go
// first, then the farthest from v. Active tiles and proxies of active
// tiles are kept; loading tiles are kept and, unless visible, demoted.
func (m *Manager) limitCache(v Viewport, surplus int) {
	removed := 0
	visible := make(map[*tile.Tile]struct{}, len(m.visible))
	for _, t := range m.visible {
		visible[t] = struct{}{}
	}

	orphans := 0
	for _, t := range m.tiles {
		if removed >= surplus {
			break
		}
		if t.State() != tile.StateNone || t.Active() {
			continue
		}
		if _, ok := visible[t]; ok {
			continue
		}
		m.remove(t)
		removed++
		orphans++
	}
	m.compact()

	byDistance := 0
	if removed < surplus {
		for _, t := range m.tiles {
			t.Distance = distance(t.ID, v, m.cfg.TileSize, m.cfg.AncestorWeight)
		}
		order := slices.Clone(m.tiles)
		slices.SortStableFunc(order, func(a, b *tile.Tile) int {
			switch {
			case a.Distance > b.Distance:
				return -1
			case a.Distance < b.Distance:
				return 1
			}
			return 0
		})
		for _, t := range order {
			if removed >= surplus {
				break
			}
			switch {
			case t.Active():
				continue
			case t.HasData() && m.isActiveProxy(t):
				continue
			case t.Loading():
				if _, ok := visible[t]; !ok {
					t.CancelLoading()
				}
				continue
			}
			m.remove(t)
			removed++
			byDistance++
		}
		m.compact()
		m.visible = slices.DeleteFunc(m.visible, func(t *tile.Tile) bool { return !t.Indexed() })
	}

	observability.AddEvictions(m.source, "orphan", orphans)
	observability.AddEvictions(m.source, "distance", byDistance)
	if removed > 0 {
		m.log.Debug("evicted tiles", "orphans", orphans, "distance", byDistance, "indexed", len(m.tiles))
	}
}

// isActiveProxy reports whether t stands in for an active tile without
// data within ProxyLevels levels above or below.
func (m *Manager) isActiveProxy(t *tile.Tile) bool {
	needsProxy := func(o *tile.Tile) bool { return o.Active() && !o.HasData() }
	for d := 1; d <= m.cfg.ProxyLevels; d++ {
		if a := m.index.Ancestor(t, d); a != nil && needsProxy(a) {
			return true
		}
		found := false
		m.index.Descendants(t, d, func(c *tile.Tile) bool {
			found = needsProxy(c)
			return !found
		})
		if found {
			return true
		}
	}
	return false
}

// limitNewData drops consumed or removed entries from the new-data queue
// and, once it reaches MaxNewData, clears the oldest entries down to half
// the limit.
func (m *Manager) limitNewData() {
	m.newData = slices.DeleteFunc(m.newData, func(t *tile.Tile) bool {
		return !t.Indexed() || !t.HasNewData()
	})
	limit := m.cfg.MaxNewData
	if len(m.newData) < limit {
		return
	}
	drop := len(m.newData) - limit/2
	dropped := 0
	for _, t := range m.newData {
		if dropped >= drop {
			break
		}
		if t.Active() || m.isActiveProxy(t) {
			continue
		}
		m.remove(t)
		dropped++
	}
	if dropped == 0 {
		return
	}
	m.newData = slices.DeleteFunc(m.newData, func(t *tile.Tile) bool { return !t.Indexed() })
	m.compact()
	m.visible = slices.DeleteFunc(m.visible, func(t *tile.Tile) bool { return !t.Indexed() })
	observability.AddEvictions(m.source, "new_data", dropped)
	m.log.Debug("trimmed unconsumed tiles", "dropped", dropped, "pending", len(m.newData))
}

func (m *Manager) remove(t *tile.Tile) {
	t.Clear()
	if err := m.index.Remove(t); err != nil {
		m.log.Warn("remove tile", "tile", t.ID.String(), "err", err)
	}
}

// compact drops removed tiles from the tile list.
func (m *Manager) compact() {
	m.tiles = slices.DeleteFunc(m.tiles, func(t *tile.Tile) bool { return !t.Indexed() })
}
