// Package vectortile decodes the tagged binary tile payload into geometry
// and tags.
//
// A payload is a 4-byte big-endian length followed by a message of tile
// fields: a version, key/value string tables, a tag table of key/value index
// pairs and any number of line, polygon, point and mesh elements. Element
// coordinates are delta and zig-zag coded in a 4096 unit reference extent
// and rescaled to the configured tile size.
package vectortile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/mohammed-shakir/tileloader/internal/codec/pbf"
	"github.com/mohammed-shakir/tileloader/internal/tile"
	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

// RefTileSize is the coordinate extent payloads are encoded in.
const RefTileSize = 4096

const (
	tileVersion   = 1
	tileNumTags   = 11
	tileNumKeys   = 12
	tileNumValues = 13
	tileTagKeys   = 14
	tileTagValues = 15
	tileTags      = 16
	tileLine      = 21
	tilePoly      = 22
	tilePoint     = 23
	tileMesh      = 24

	elemNumIndices = 1
	elemNumTags    = 2
	elemNumCoords  = 3
	elemTags       = 11
	elemIndex      = 12
	elemCoords     = 13
	elemLayer      = 21
)

const (
	minVersion   = 4
	maxVersion   = 5
	defaultLayer = 5

	// DefaultMaxSize bounds the declared payload length.
	DefaultMaxSize = 8 << 20
)

var (
	ErrInvalidTag      = fmt.Errorf("%w: invalid tag", tileerr.ErrDecode)
	ErrInvalidVersion  = fmt.Errorf("%w: invalid version", tileerr.ErrDecode)
	ErrUnknownField    = fmt.Errorf("%w: unknown field", tileerr.ErrDecode)
	ErrCoordinateCount = fmt.Errorf("%w: wrong number of coordinates", tileerr.ErrDecode)
	ErrPayloadSize     = fmt.Errorf("%w: invalid payload size", tileerr.ErrDecode)
)

type Decoder struct {
	dict    *Dictionary
	scale   float32
	maxSize int
}

type Option func(*Decoder)

func WithDictionary(d *Dictionary) Option {
	return func(dec *Decoder) { dec.dict = d }
}

func WithMaxSize(n int) Option {
	return func(dec *Decoder) { dec.maxSize = n }
}

// New returns a decoder producing coordinates for tiles of tileSize pixels.
func New(tileSize int, opts ...Option) *Decoder {
	if tileSize <= 0 {
		tileSize = 256
	}
	dec := &Decoder{
		dict:    DefaultDictionary,
		scale:   float32(RefTileSize) / float32(tileSize),
		maxSize: DefaultMaxSize,
	}
	for _, o := range opts {
		o(dec)
	}
	return dec
}

// Decode reads one length-prefixed payload from r.
func (dec *Decoder) Decode(id tile.ID, r io.Reader) (*tile.Content, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: tile %s length prefix: %w", tileerr.ErrDecode, id, err)
	}
	size := int(binary.BigEndian.Uint32(hdr[:]))
	if size > dec.maxSize {
		return nil, fmt.Errorf("%w: tile %s declares %d bytes", ErrPayloadSize, id, size)
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("%w: tile %s body: %w", pbf.ErrTruncated, id, err)
	}
	c, err := dec.DecodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", id, err)
	}
	c.Size = size + len(hdr)
	return c, nil
}

type tileState struct {
	d       pbf.Decoder
	content *tile.Content

	numTags int
	keys    []string
	values  []string
	scratch []int32
}

// DecodeMessage decodes a payload message without its length prefix.
func (dec *Decoder) DecodeMessage(msg []byte) (*tile.Content, error) {
	st := &tileState{content: &tile.Content{}}
	st.d.Reset(msg)
	d := &st.d

	for d.HasData() {
		num, typ, err := d.Field()
		if err != nil {
			return nil, err
		}
		if num == 0 {
			break
		}
		switch num {
		case tileLine, tilePoly, tilePoint, tileMesh:
			if err := dec.decodeElement(st, num); err != nil {
				return nil, err
			}

		case tileTagKeys:
			if len(st.keys) == cap(st.keys) {
				return nil, fmt.Errorf("%w: more keys than declared (%d)", ErrInvalidTag, cap(st.keys))
			}
			s, err := d.String()
			if err != nil {
				return nil, err
			}
			st.keys = append(st.keys, s)

		case tileTagValues:
			if len(st.values) == cap(st.values) {
				return nil, fmt.Errorf("%w: more values than declared (%d)", ErrInvalidTag, cap(st.values))
			}
			s, err := d.String()
			if err != nil {
				return nil, err
			}
			st.values = append(st.values, s)

		case tileNumTags:
			n, err := d.Varint32()
			if err != nil {
				return nil, err
			}
			st.numTags = int(n)

		case tileNumKeys:
			n, err := d.Varint32()
			if err != nil {
				return nil, err
			}
			if int(n) > d.Len() {
				return nil, fmt.Errorf("%w: %d keys in %d bytes", ErrInvalidTag, n, d.Len())
			}
			st.keys = make([]string, 0, n)

		case tileNumValues:
			n, err := d.Varint32()
			if err != nil {
				return nil, err
			}
			if int(n) > d.Len() {
				return nil, fmt.Errorf("%w: %d values in %d bytes", ErrInvalidTag, n, d.Len())
			}
			st.values = make([]string, 0, n)

		case tileTags:
			if err := dec.decodeTileTags(st); err != nil {
				return nil, err
			}

		case tileVersion:
			v, err := d.Varint32()
			if err != nil {
				return nil, err
			}
			if v < minVersion || v > maxVersion {
				return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, v)
			}
			st.content.Version = int(v)

		default:
			return nil, fmt.Errorf("%w: tile field %d (wire type %d)", ErrUnknownField, num, typ)
		}
	}
	return st.content, nil
}

func (dec *Decoder) decodeTileTags(st *tileState) error {
	var err error
	st.scratch, err = st.d.VarintArray(st.numTags*2, st.scratch[:0])
	if err != nil {
		return err
	}
	idx := st.scratch
	if len(idx)%2 != 0 {
		return fmt.Errorf("%w: odd tag index count %d", ErrInvalidTag, len(idx))
	}
	for i := 0; i < len(idx); i += 2 {
		key, err := lookup(idx[i], dec.dict.Keys, st.keys)
		if err != nil {
			return fmt.Errorf("key: %w", err)
		}
		val, err := lookup(idx[i+1], dec.dict.Values, st.values)
		if err != nil {
			return fmt.Errorf("value %q: %w", key, err)
		}
		if key == "height" || key == "min_height" {
			if val, err = centimetresToMetres(val); err != nil {
				return err
			}
		}
		st.content.Tags = append(st.content.Tags, tile.Tag{Key: key, Value: val})
	}
	return nil
}

func lookup(i int32, dict, local []string) (string, error) {
	if i < 0 {
		return "", fmt.Errorf("%w: index %d", ErrInvalidTag, i)
	}
	if i < attribOffset {
		if int(i) >= len(dict) {
			return "", fmt.Errorf("%w: dictionary index %d", ErrInvalidTag, i)
		}
		return dict[i], nil
	}
	i -= attribOffset
	if int(i) >= len(local) {
		return "", fmt.Errorf("%w: tile index %d of %d", ErrInvalidTag, i, len(local))
	}
	return local[i], nil
}

// heights are stored in centimetres
func centimetresToMetres(v string) (string, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return "", fmt.Errorf("%w: height %q", ErrInvalidTag, v)
	}
	return strconv.FormatFloat(math.Round(f)/100, 'f', -1, 64), nil
}

func (dec *Decoder) decodeElement(st *tileState, kind int) error {
	d := &st.d
	size, err := d.Varint32()
	if err != nil {
		return err
	}
	end := d.Pos() + int(size)
	if end > d.Len() {
		return fmt.Errorf("%w: element of %d bytes", pbf.ErrTruncated, size)
	}

	e := tile.Element{Layer: defaultLayer}
	numIndices, numTags, coordCnt := 1, 1, 0
	if kind == tilePoint {
		coordCnt = 1
		e.Index = []int32{2}
	}

	for d.Pos() < end {
		num, typ, err := d.Field()
		if err != nil {
			return err
		}
		if num == 0 {
			break
		}
		switch num {
		case elemTags:
			if e.Tags, err = decodeElementTags(st, numTags); err != nil {
				return err
			}
		case elemNumIndices:
			n, err := d.Varint32()
			if err != nil {
				return err
			}
			numIndices = int(n)
		case elemNumTags:
			n, err := d.Varint32()
			if err != nil {
				return err
			}
			numTags = int(n)
		case elemNumCoords:
			n, err := d.Varint32()
			if err != nil {
				return err
			}
			coordCnt = int(n)
		case elemIndex:
			if e.Index, err = d.VarintArray(numIndices, nil); err != nil {
				return err
			}
			if kind != tileMesh {
				coordCnt = 0
				for i, n := range e.Index {
					coordCnt += int(n)
					e.Index[i] = n * 2
				}
			}
		case elemCoords:
			var n int
			if kind == tileMesh {
				e.Points, n, err = d.InterleavedPoints3D(e.Points[:0], 1)
			} else {
				e.Points, n, err = d.InterleavedPoints(e.Points[:0], dec.scale)
			}
			if err != nil {
				return err
			}
			if n != coordCnt {
				return fmt.Errorf("%w: %d of %d", ErrCoordinateCount, n, coordCnt)
			}
		case elemLayer:
			n, err := d.Varint32()
			if err != nil {
				return err
			}
			e.Layer = int(n)
		default:
			if err := d.Skip(typ); err != nil {
				return err
			}
		}
	}
	if d.Pos() != end {
		return fmt.Errorf("%w: element ends at %d, declared %d", pbf.ErrInvalidPackedSize, d.Pos(), end)
	}
	if numTags == 0 || numIndices == 0 {
		return fmt.Errorf("%w: element without tags or indices", tileerr.ErrDecode)
	}

	switch kind {
	case tileLine:
		e.Type = tile.GeomLine
	case tilePoly:
		e.Type = tile.GeomPolygon
	case tilePoint:
		e.Type = tile.GeomPoint
	case tileMesh:
		e.Type = tile.GeomMesh
	}
	st.content.Elements = append(st.content.Elements, e)
	return nil
}

func decodeElementTags(st *tileState, numTags int) ([]tile.Tag, error) {
	var err error
	st.scratch, err = st.d.VarintArray(numTags, st.scratch[:0])
	if err != nil {
		return nil, err
	}
	tags := make([]tile.Tag, 0, len(st.scratch))
	for _, i := range st.scratch {
		if i < 0 || int(i) >= len(st.content.Tags) {
			return nil, fmt.Errorf("%w: element tag %d of %d", ErrInvalidTag, i, len(st.content.Tags))
		}
		tags = append(tags, st.content.Tags[i])
	}
	return tags, nil
}
