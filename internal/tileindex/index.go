// Package tileindex is a quadtree over tile coordinates.
//
// Nodes live in an arena slice and refer to each other by position. A node
// counts the tiles in its subtree, itself included; when that count drops to
// zero the node is unlinked from its parent and its slot is recycled through
// a free list. The root is never recycled.
//
// Index is not safe for concurrent use; the scheduler serialises access.
package tileindex

import (
	"errors"

	"github.com/mohammed-shakir/tileloader/internal/tile"
)

// ErrNotIndexed is returned when removing a tile the index does not hold.
var ErrNotIndexed = errors.New("tile not indexed")

const (
	root int32 = 0
	none int32 = -1
)

type node struct {
	children [4]int32
	parent   int32
	quadrant int8
	refs     int32
	item     *tile.Tile
}

func emptyNode(parent int32, q int) node {
	return node{
		children: [4]int32{none, none, none, none},
		parent:   parent,
		quadrant: int8(q),
	}
}

type Index struct {
	nodes []node
	free  []int32
}

func New() *Index {
	return &Index{nodes: []node{emptyNode(none, 0)}}
}

func (x *Index) alloc(parent int32, q int) int32 {
	if n := len(x.free); n > 0 {
		i := x.free[n-1]
		x.free = x.free[:n-1]
		x.nodes[i] = emptyNode(parent, q)
		return i
	}
	x.nodes = append(x.nodes, emptyNode(parent, q))
	return int32(len(x.nodes) - 1)
}

func (x *Index) release(i int32) {
	x.nodes[i] = emptyNode(none, 0)
	x.free = append(x.free, i)
}

func quadrantAt(id tile.ID, level int) int {
	return ((id.X >> level) & 1) | ((id.Y>>level)&1)<<1
}

// Add creates a tile for id, building the path from the root as needed.
// When id already holds a tile, the old tile is detached and replaced.
func (x *Index) Add(id tile.ID) (*tile.Tile, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	t := tile.New(id)

	if n := x.find(id); n != none && x.nodes[n].item != nil {
		x.nodes[n].item.DetachNode()
		x.nodes[n].item = t
		t.AttachNode(n)
		return t, nil
	}

	cur := root
	for level := id.Z - 1; level >= 0; level-- {
		x.nodes[cur].refs++
		q := quadrantAt(id, level)
		next := x.nodes[cur].children[q]
		if next == none {
			next = x.alloc(cur, q)
			x.nodes[cur].children[q] = next
		}
		cur = next
	}
	x.nodes[cur].refs++
	x.nodes[cur].item = t
	t.AttachNode(cur)
	return t, nil
}

// Remove detaches t and releases every node left without tiles.
func (x *Index) Remove(t *tile.Tile) error {
	n := t.Node()
	if n == none || int(n) >= len(x.nodes) || x.nodes[n].item != t {
		return ErrNotIndexed
	}
	x.nodes[n].item = nil
	t.DetachNode()

	for n != root {
		nd := &x.nodes[n]
		nd.refs--
		parent := nd.parent
		if nd.refs == 0 {
			x.nodes[parent].children[nd.quadrant] = none
			x.release(n)
		}
		n = parent
	}
	x.nodes[root].refs--
	return nil
}

func (x *Index) find(id tile.ID) int32 {
	if !id.Valid() {
		return none
	}
	cur := root
	for level := id.Z - 1; level >= 0; level-- {
		cur = x.nodes[cur].children[quadrantAt(id, level)]
		if cur == none {
			return none
		}
	}
	return cur
}

// Get returns the tile at (x, y, z) or nil.
func (x *Index) Get(tx, ty, z int) *tile.Tile {
	return x.Lookup(tile.ID{X: tx, Y: ty, Z: z})
}

func (x *Index) Lookup(id tile.ID) *tile.Tile {
	n := x.find(id)
	if n == none {
		return nil
	}
	return x.nodes[n].item
}

// Size is the number of indexed tiles.
func (x *Index) Size() int { return int(x.nodes[root].refs) }

// Refs returns the reference count of the node at id, 0 if it does not exist.
func (x *Index) Refs(id tile.ID) int {
	n := x.find(id)
	if n == none {
		return 0
	}
	return int(x.nodes[n].refs)
}

// Nodes returns the number of live (non pooled) nodes, the root included.
func (x *Index) Nodes() int { return len(x.nodes) - len(x.free) }

// Ancestor returns the tile levels above t, or nil if there is none.
func (x *Index) Ancestor(t *tile.Tile, levels int) *tile.Tile {
	n := t.Node()
	if n == none {
		return nil
	}
	for ; levels > 0; levels-- {
		n = x.nodes[n].parent
		if n == none {
			return nil
		}
	}
	return x.nodes[n].item
}

func (x *Index) Parent(t *tile.Tile) *tile.Tile { return x.Ancestor(t, 1) }

// Children returns the tiles one level below t, by quadrant.
func (x *Index) Children(t *tile.Tile) [4]*tile.Tile {
	var out [4]*tile.Tile
	n := t.Node()
	if n == none {
		return out
	}
	for q, c := range x.nodes[n].children {
		if c != none {
			out[q] = x.nodes[c].item
		}
	}
	return out
}

// Descendants calls fn for each tile exactly depth levels below t until fn
// returns false. It reports whether the walk ran to completion.
func (x *Index) Descendants(t *tile.Tile, depth int, fn func(*tile.Tile) bool) bool {
	n := t.Node()
	if n == none || depth <= 0 {
		return true
	}
	return x.walk(n, depth, fn)
}

func (x *Index) walk(n int32, depth int, fn func(*tile.Tile) bool) bool {
	for _, c := range x.nodes[n].children {
		if c == none {
			continue
		}
		if depth == 1 {
			if it := x.nodes[c].item; it != nil && !fn(it) {
				return false
			}
			continue
		}
		if !x.walk(c, depth-1, fn) {
			return false
		}
	}
	return true
}

// Clear detaches every tile and resets the arena to the bare root.
func (x *Index) Clear() {
	for i := range x.nodes {
		if it := x.nodes[i].item; it != nil {
			it.DetachNode()
		}
	}
	x.nodes = x.nodes[:1]
	x.nodes[root] = emptyNode(none, 0)
	x.free = x.free[:0]
}
