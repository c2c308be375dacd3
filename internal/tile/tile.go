package tile

import (
	"strings"
	"sync/atomic"
)

// State holds the loading flags of a tile. Active is tracked separately
// because the consumer toggles it without the manager lock.
type State uint8

const (
	StateNone    State = 0
	StateLoading State = 1 << iota
	StateNewData
	StateReady
)

func (s State) String() string {
	if s == StateNone {
		return "new"
	}
	var parts []string
	if s&StateLoading != 0 {
		parts = append(parts, "loading")
	}
	if s&StateNewData != 0 {
		parts = append(parts, "new_data")
	}
	if s&StateReady != 0 {
		parts = append(parts, "ready")
	}
	return strings.Join(parts, "|")
}

const noNode = -1

// Tile is one cached tile. Apart from Active and SetActive, every method
// must be called with the owning manager's lock held.
type Tile struct {
	ID ID

	// Distance is scratch space for the scheduler's priority passes.
	Distance float64

	node    int32
	state   State
	stale   bool
	content *Content
	active  atomic.Bool
}

func New(id ID) *Tile {
	return &Tile{ID: id, node: noNode}
}

func (t *Tile) String() string { return t.ID.String() }

// Node returns the index node holding t, or -1 when t is detached.
func (t *Tile) Node() int32 { return t.node }

// AttachNode and DetachNode are called by the spatial index only.
func (t *Tile) AttachNode(n int32) { t.node = n }
func (t *Tile) DetachNode() { t.node = noNode }

// Indexed reports whether t is still reachable through the index.
func (t *Tile) Indexed() bool { return t.node != noNode }

func (t *Tile) State() State { return t.state }

func (t *Tile) Loading() bool { return t.state&StateLoading != 0 }
func (t *Tile) Ready() bool { return t.state&StateReady != 0 }
func (t *Tile) HasNewData() bool { return t.state&StateNewData != 0 }

// HasData reports whether t holds content usable for drawing.
func (t *Tile) HasData() bool { return t.state&(StateReady|StateNewData) != 0 }

func (t *Tile) Stale() bool { return t.stale }

// Active is set by the consumer for tiles it currently draws.
func (t *Tile) Active() bool { return t.active.Load() }
func (t *Tile) SetActive(on bool) { t.active.Store(on) }
func (t *Tile) Content() *Content { return t.content }

// NeedsLoad reports whether a job should be issued for t.
func (t *Tile) NeedsLoad() bool {
	if t.Loading() {
		return false
	}
	return !t.HasData() || t.stale
}

// StartLoading moves t into LOADING. It returns false if t is already
// loading.
func (t *Tile) StartLoading() bool {
	if t.Loading() {
		return false
	}
	t.state |= StateLoading
	return true
}

// CancelLoading demotes the loading flag. Content and readiness are kept.
func (t *Tile) CancelLoading() { t.state &^= StateLoading }

// Fail returns a loading tile to its previous state so it is scheduled
// again.
func (t *Tile) Fail() { t.state &^= StateLoading }

// Publish stores freshly decoded content and flags it for the consumer.
// It replaces any previous content.
func (t *Tile) Publish(c *Content) {
	t.content = c
	t.stale = false
	t.state = StateReady | StateNewData
}

// Consume clears the new-data flag and returns the content once.
func (t *Tile) Consume() (*Content, bool) {
	if !t.HasNewData() {
		return nil, false
	}
	t.state &^= StateNewData
	return t.content, true
}

// MarkStale schedules a reload for a tile that holds data. The current
// content stays usable until the reload publishes.
func (t *Tile) MarkStale() bool {
	if !t.HasData() {
		return false
	}
	t.stale = true
	return true
}

// Clear releases the content and resets t to NEW.
func (t *Tile) Clear() {
	t.content = nil
	t.stale = false
	t.state = StateNone
}
