package vectortile

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mohammed-shakir/tileloader/internal/codec/pbf"
)

// Builder encodes payloads in the format Decoder reads. Keys and values are
// always written to the tile's own tables.
type Builder struct {
	version int
	keys    []string
	values  []string
	tags    []int32
	elems   []byte
}

func NewBuilder() *Builder {
	return &Builder{version: maxVersion}
}

// Tag registers key=value in the tile tag table and returns its index.
func (b *Builder) Tag(key, value string) int32 {
	b.tags = append(b.tags,
		attribOffset+int32(indexOf(&b.keys, key)),
		attribOffset+int32(indexOf(&b.values, value)))
	return int32(len(b.tags)/2 - 1)
}

func indexOf(list *[]string, s string) int {
	for i, v := range *list {
		if v == s {
			return i
		}
	}
	*list = append(*list, s)
	return len(*list) - 1
}

// Line adds a line with one part per coordinate slice. Coordinates are
// absolute x,y pairs in the reference extent.
func (b *Builder) Line(tags []int32, parts ...[]int32) {
	b.element(tileLine, tags, parts)
}

func (b *Builder) Polygon(tags []int32, rings ...[]int32) {
	b.element(tilePoly, tags, rings)
}

func (b *Builder) Point(tags []int32, x, y int32) {
	b.element(tilePoint, tags, [][]int32{{x, y}})
}

func (b *Builder) element(kind int, tags []int32, parts [][]int32) {
	var body []byte
	var index, flat []int32
	for _, p := range parts {
		index = append(index, int32(len(p)/2))
		flat = append(flat, p...)
	}
	body = pbf.AppendField(body, elemNumTags, protowire.VarintType)
	body = pbf.AppendVarint(body, uint64(len(tags)))
	body = pbf.AppendField(body, elemTags, protowire.BytesType)
	body = pbf.AppendPacked(body, tags)
	if kind != tilePoint {
		body = pbf.AppendField(body, elemNumIndices, protowire.VarintType)
		body = pbf.AppendVarint(body, uint64(len(index)))
		body = pbf.AppendField(body, elemIndex, protowire.BytesType)
		body = pbf.AppendPacked(body, index)
	}
	body = pbf.AppendField(body, elemCoords, protowire.BytesType)
	body = pbf.AppendInterleavedPoints(body, flat, 2)

	b.elems = pbf.AppendField(b.elems, kind, protowire.BytesType)
	b.elems = protowire.AppendBytes(b.elems, body)
}

// Bytes returns the length-prefixed payload.
func (b *Builder) Bytes() []byte {
	var msg []byte
	msg = pbf.AppendField(msg, tileVersion, protowire.VarintType)
	msg = pbf.AppendVarint(msg, uint64(b.version))
	msg = pbf.AppendField(msg, tileNumKeys, protowire.VarintType)
	msg = pbf.AppendVarint(msg, uint64(len(b.keys)))
	msg = pbf.AppendField(msg, tileNumValues, protowire.VarintType)
	msg = pbf.AppendVarint(msg, uint64(len(b.values)))
	for _, k := range b.keys {
		msg = pbf.AppendField(msg, tileTagKeys, protowire.BytesType)
		msg = pbf.AppendString(msg, k)
	}
	for _, v := range b.values {
		msg = pbf.AppendField(msg, tileTagValues, protowire.BytesType)
		msg = pbf.AppendString(msg, v)
	}
	msg = pbf.AppendField(msg, tileNumTags, protowire.VarintType)
	msg = pbf.AppendVarint(msg, uint64(len(b.tags)/2))
	msg = pbf.AppendField(msg, tileTags, protowire.BytesType)
	msg = pbf.AppendPacked(msg, b.tags)
	msg = append(msg, b.elems...)

	out := binary.BigEndian.AppendUint32(nil, uint32(len(msg)))
	return append(out, msg...)
}
