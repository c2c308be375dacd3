// Package scheduler decides which tiles are loaded, in which order, and
// which are evicted.
//
// A Manager owns the spatial index of one map. The viewport driver calls
// Update, workers pull jobs with NextJob and report with JobCompleted, and
// the consumer reads published content with TakeNewData while toggling
// Active on the tiles it draws. One mutex guards the index and the tile
// lists; it is never held across I/O or decode. The job queue has its own
// lock, always taken after the manager lock.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/mohammed-shakir/tileloader/internal/core/observability"
	"github.com/mohammed-shakir/tileloader/internal/tile"
	"github.com/mohammed-shakir/tileloader/internal/tileerr"
	"github.com/mohammed-shakir/tileloader/internal/tileindex"
)

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSource names the tile source on the manager's metric series.
func WithSource(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.source = name
		}
	}
}

type Manager struct {
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
	source string

	mu      sync.Mutex
	index   *tileindex.Index
	tiles   []*tile.Tile
	visible []*tile.Tile
	newData []*tile.Tile
	last    Viewport
	hasLast bool
	// dirty forces the next Update into a full pass.
	dirty  bool
	serial uint64

	queue   *queue
	updates chan struct{}
}

func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		log:     slog.Default(),
		now:     time.Now,
		source:  "default",
		index:   tileindex.New(),
		queue:   newQueue(),
		updates: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// Updates receives a value whenever new content was published or the
// visible set changed.
func (m *Manager) Updates() <-chan struct{} { return m.updates }

func (m *Manager) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *Manager) normalize(v Viewport) Viewport {
	v.Zoom = max(m.cfg.MinZoom, min(v.Zoom, m.cfg.MaxZoom))
	if v.Scale <= 0 || math.IsNaN(v.Scale) {
		v.Scale = 1
	}
	v.Width = max(v.Width, 0)
	v.Height = max(v.Height, 0)
	return v
}

// needsPass reports whether v moved enough since the last pass.
func (m *Manager) needsPass(v Viewport) (pass, zoomChanged bool) {
	if !m.hasLast || v.Zoom != m.last.Zoom {
		return true, true
	}
	if m.dirty {
		return true, false
	}
	if math.Hypot(v.X-m.last.X, v.Y-m.last.Y) > m.cfg.MoveThreshold {
		return true, false
	}
	if math.Abs(v.Scale-m.last.Scale) > m.cfg.ScaleThreshold {
		return true, false
	}
	if v.Width != m.last.Width || v.Height != m.last.Height {
		return true, false
	}
	return false, false
}

// Update runs a scheduling pass for v if it differs enough from the last
// one. It reports whether a pass ran.
func (m *Manager) Update(v Viewport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	v = m.normalize(v)
	pass, zoomChanged := m.needsPass(v)
	if !pass {
		return false
	}
	start := m.now()
	zoomOut := !zoomChanged && m.hasLast && v.Scale < m.last.Scale && v.Scale > m.cfg.ParentPrefetchScale

	for _, j := range m.queue.replace(nil) {
		j.Tile.CancelLoading()
	}

	jobs := m.scan(v)
	if zoomOut {
		jobs = m.addParents(v, jobs)
	}
	for _, t := range m.visible {
		t.Distance = distance(t.ID, v, m.cfg.TileSize, m.cfg.AncestorWeight)
	}
	for i := range jobs {
		jobs[i].Distance = distance(jobs[i].ID, v, m.cfg.TileSize, m.cfg.AncestorWeight)
		jobs[i].Tile.Distance = jobs[i].Distance
	}
	slices.SortStableFunc(jobs, func(a, b Job) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})

	m.last, m.hasLast, m.dirty = v, true, false
	m.queue.replace(jobs)

	if surplus := len(m.tiles) - m.cfg.CacheLimit; surplus > m.cfg.CacheSlack {
		m.limitCache(v, surplus)
	}
	m.limitNewData()
	m.serial++

	observability.ObserveSchedulePass(m.source, m.now().Sub(start).Seconds(), len(jobs))
	observability.SetIndexedTiles(m.source, len(m.tiles))
	observability.SetPendingNewData(m.source, len(m.newData))
	m.log.Debug("schedule pass",
		"viewport", v.String(), "visible", len(m.visible), "jobs", len(jobs),
		"indexed", len(m.tiles), "new_data", len(m.newData))
	m.notify()
	return true
}

// scan rebuilds the visible set for v, creating missing tiles, and returns
// a job for every visible tile that needs loading.
func (m *Manager) scan(v Viewport) []Job {
	x0, y0, x1, y1 := tileRange(v, m.cfg.TileSize, m.cfg.Margin)
	m.visible = m.visible[:0]
	var jobs []Job
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			t := m.tile(tile.ID{X: x, Y: y, Z: v.Zoom})
			if t == nil {
				continue
			}
			m.visible = append(m.visible, t)
			jobs = m.enqueue(jobs, t)
		}
	}
	return jobs
}

func (m *Manager) addParents(v Viewport, jobs []Job) []Job {
	if v.Zoom <= m.cfg.MinZoom {
		return jobs
	}
	for _, t := range m.visible {
		if p := m.tile(t.ID.Parent()); p != nil {
			jobs = m.enqueue(jobs, p)
		}
	}
	return jobs
}

// tile looks up id, adding it to the index when missing.
func (m *Manager) tile(id tile.ID) *tile.Tile {
	if t := m.index.Lookup(id); t != nil {
		return t
	}
	t, err := m.index.Add(id)
	if err != nil {
		m.log.Warn("index tile", "tile", id.String(), "err", err)
		return nil
	}
	m.tiles = append(m.tiles, t)
	return t
}

func (m *Manager) enqueue(jobs []Job, t *tile.Tile) []Job {
	if !t.NeedsLoad() || !t.StartLoading() {
		return jobs
	}
	return append(jobs, Job{Tile: t, ID: t.ID})
}

// NextJob blocks until a job is available, ctx ends or the manager is
// closed.
func (m *Manager) NextJob(ctx context.Context) (Job, error) {
	return m.queue.next(ctx)
}

// Begin is called by a worker before loading. It returns false when the
// tile was evicted, cleared or demoted after the job was queued.
func (m *Manager) Begin(t *tile.Tile) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return t.Indexed() && t.Loading()
}

// Wanted is polled by loaders before decoding.
func (m *Manager) Wanted(t *tile.Tile) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return t.Indexed() && t.Loading()
}

// JobCompleted publishes c for t, or on failure resets t so the next
// Update schedules it again.
func (m *Manager) JobCompleted(t *tile.Tile, c *tile.Content, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case errors.Is(err, tileerr.ErrCanceled):
		t.CancelLoading()
		return
	case err != nil:
		t.Fail()
		m.dirty = true
		m.log.Warn("tile load failed", "tile", t.ID.String(), "kind", tileerr.Kind(err), "err", err)
		return
	case c == nil:
		t.Fail()
		m.dirty = true
		return
	}
	if !t.Indexed() {
		return
	}
	if !t.HasNewData() {
		m.newData = append(m.newData, t)
	}
	t.Publish(c)
	observability.SetPendingNewData(m.source, len(m.newData))
	m.notify()
}

// Result is content handed to the consumer.
type Result struct {
	ID      tile.ID
	Content *tile.Content
}

// TakeNewData returns up to limit published tiles in publication order and
// clears their new-data flag. limit <= 0 takes all.
func (m *Manager) TakeNewData(limit int) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Result
	rest := m.newData[:0]
	for _, t := range m.newData {
		if limit > 0 && len(out) >= limit {
			rest = append(rest, t)
			continue
		}
		if !t.Indexed() {
			continue
		}
		if c, ok := t.Consume(); ok {
			out = append(out, Result{ID: t.ID, Content: c})
		}
	}
	clear(m.newData[len(rest):])
	m.newData = rest
	observability.SetPendingNewData(m.source, len(m.newData))
	return out
}

// Content returns the current content of id if it is indexed and holds data.
func (m *Manager) Content(id tile.ID) (*tile.Content, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.index.Lookup(id)
	if t == nil || !t.HasData() {
		return nil, false
	}
	return t.Content(), true
}

// SetActive marks id as drawn by the consumer. It reports whether id is
// indexed.
func (m *Manager) SetActive(id tile.ID, on bool) bool {
	m.mu.Lock()
	t := m.index.Lookup(id)
	m.mu.Unlock()
	if t == nil {
		return false
	}
	t.SetActive(on)
	return true
}

// TileInfo is a snapshot of one tile for the consumer and debug output.
type TileInfo struct {
	ID       tile.ID
	State    tile.State
	Active   bool
	Stale    bool
	Distance float64
}

func info(t *tile.Tile) TileInfo {
	return TileInfo{ID: t.ID, State: t.State(), Active: t.Active(), Stale: t.Stale(), Distance: t.Distance}
}

// VisibleTiles returns the tiles of the last pass in scan order.
func (m *Manager) VisibleTiles() []TileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TileInfo, 0, len(m.visible))
	for _, t := range m.visible {
		out = append(out, info(t))
	}
	return out
}

// Tiles returns every indexed tile.
func (m *Manager) Tiles() []TileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TileInfo, 0, len(m.tiles))
	for _, t := range m.tiles {
		out = append(out, info(t))
	}
	return out
}

// QueuedJobs returns the jobs no worker has taken yet, in order.
func (m *Manager) QueuedJobs() []Job {
	return m.queue.pending()
}

type Stats struct {
	Serial  uint64
	Indexed int
	Nodes   int
	Visible int
	Queued  int
	NewData int
	Loading int
	Ready   int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Serial:  m.serial,
		Indexed: len(m.tiles),
		Nodes:   m.index.Nodes(),
		Visible: len(m.visible),
		Queued:  m.queue.len(),
		NewData: len(m.newData),
	}
	for _, t := range m.tiles {
		if t.Loading() {
			s.Loading++
		}
		if t.Ready() {
			s.Ready++
		}
	}
	return s
}

// Invalidate marks the given tiles stale. It returns how many indexed tiles
// holding data were affected; they reload on the next Update.
func (m *Manager) Invalidate(ids ...tile.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if t := m.index.Lookup(id); t != nil && t.MarkStale() {
			n++
		}
	}
	if n > 0 {
		m.dirty = true
	}
	return n
}

// InvalidateFunc marks stale every indexed tile for which match is true.
func (m *Manager) InvalidateFunc(match func(tile.ID) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tiles {
		if match(t.ID) && t.MarkStale() {
			n++
		}
	}
	if n > 0 {
		m.dirty = true
	}
	return n
}

// Clear drops every tile and forces the next Update into a full pass.
// In-flight loads complete and are discarded.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.queue.replace(nil) {
		j.Tile.CancelLoading()
	}
	for _, t := range m.tiles {
		t.Clear()
	}
	m.index.Clear()
	clear(m.tiles)
	m.tiles = m.tiles[:0]
	m.visible = m.visible[:0]
	m.newData = nil
	m.hasLast = false
	observability.SetIndexedTiles(m.source, 0)
	observability.SetPendingNewData(m.source, 0)
	m.log.Info("tile cache cleared")
}

// Close stops handing out jobs. Workers blocked in NextJob return ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.queue.close() {
		j.Tile.CancelLoading()
	}
}
