// Package pbf decodes the protobuf-style primitives tile payloads are built
// from: LEB128 varints, zig-zag integers, packed varint runs, delta coded
// coordinate arrays and little-endian floats.
package pbf

import (
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

var (
	ErrInvalidVarint     = fmt.Errorf("%w: invalid varint", tileerr.ErrDecode)
	ErrInvalidPackedSize = fmt.Errorf("%w: invalid packed size", tileerr.ErrDecode)
	ErrInvalidArraySize  = fmt.Errorf("%w: invalid array size", tileerr.ErrDecode)
	ErrTruncated         = fmt.Errorf("%w: truncated message", tileerr.ErrDecode)
	ErrInvalidString     = fmt.Errorf("%w: invalid utf-8 string", tileerr.ErrDecode)
)

const (
	maxVarint32Len = 5
	// protowire's code for an over-long varint
	codeOverflow = -3
)

// Decoder reads primitives from an in-memory message. The zero value
// decodes an empty message.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

func (d *Decoder) Reset(b []byte) {
	d.buf = b
	d.pos = 0
}

func (d *Decoder) HasData() bool { return d.pos < len(d.buf) }

// Pos is the offset of the next unread byte.
func (d *Decoder) Pos() int { return d.pos }

// Len is the total message size.
func (d *Decoder) Len() int { return len(d.buf) }

func varintErr(n int) error {
	if errors.Is(protowire.ParseError(n), io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return ErrInvalidVarint
}

func (d *Decoder) Varint64() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.buf[d.pos:])
	if n < 0 {
		return 0, varintErr(n)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) Varint32() (uint32, error) {
	v, n := consumeVarint32(d.buf[d.pos:])
	if n < 0 {
		return 0, varintErr(n)
	}
	d.pos += n
	return v, nil
}

// Int32 decodes a varint and reinterprets it as a signed value.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Varint32()
	return int32(v), err
}

func consumeVarint32(b []byte) (uint32, int) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, n
	}
	if n > maxVarint32Len || v > math.MaxUint32 {
		return 0, codeOverflow
	}
	return uint32(v), n
}

func ZigZag32(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

func ZigZag64(v uint64) int64 {
	return protowire.DecodeZigZag(v)
}

// Field reads a field key and splits it into field number and wire type.
// A zero key marks the end of a message and yields number 0.
func (d *Decoder) Field() (int, protowire.Type, error) {
	v, err := d.Varint32()
	if err != nil {
		return 0, 0, err
	}
	return int(v >> 3), protowire.Type(v & 7), nil
}

func (d *Decoder) Bool() (bool, error) {
	v, err := d.Varint64()
	return v != 0, err
}

func (d *Decoder) Float32() (float32, error) {
	v, n := protowire.ConsumeFixed32(d.buf[d.pos:])
	if n < 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return math.Float32frombits(v), nil
}

func (d *Decoder) Float64() (float64, error) {
	v, n := protowire.ConsumeFixed64(d.buf[d.pos:])
	if n < 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return math.Float64frombits(v), nil
}

// Bytes returns a length-prefixed run. The slice aliases the message.
func (d *Decoder) Bytes() ([]byte, error) {
	size, err := d.Varint32()
	if err != nil {
		return nil, err
	}
	end := d.pos + int(size)
	if end > len(d.buf) || end < d.pos {
		return nil, ErrTruncated
	}
	b := d.buf[d.pos:end]
	d.pos = end
	return b, nil
}

func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidString
	}
	return string(b), nil
}

// Skip discards the value of a field of wire type typ.
func (d *Decoder) Skip(typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(0, typ, d.buf[d.pos:])
	if n < 0 {
		return varintErr(n)
	}
	d.pos += n
	return nil
}

// VarintArray decodes a packed run of at most limit varints into dst.
func (d *Decoder) VarintArray(limit int, dst []int32) ([]int32, error) {
	b, err := d.Bytes()
	if err != nil {
		return dst, err
	}
	for off, cnt := 0, 0; off < len(b); cnt++ {
		if cnt == limit {
			return dst, fmt.Errorf("%w: more than %d entries", ErrInvalidArraySize, limit)
		}
		v, n := consumeVarint32(b[off:])
		if n < 0 {
			return dst, packedErr(n)
		}
		off += n
		dst = append(dst, int32(v))
	}
	return dst, nil
}

// a varint running past the end of its run is a size mismatch
func packedErr(n int) error {
	if errors.Is(protowire.ParseError(n), io.ErrUnexpectedEOF) {
		return ErrInvalidPackedSize
	}
	return ErrInvalidVarint
}

// InterleavedPoints decodes delta and zig-zag coded x,y pairs, appends the
// absolute coordinates divided by scale to dst and returns the number of
// points read.
func (d *Decoder) InterleavedPoints(dst []float32, scale float32) ([]float32, int, error) {
	return d.interleaved(dst, 2, scale)
}

// InterleavedPoints3D is InterleavedPoints for x,y,z triples.
func (d *Decoder) InterleavedPoints3D(dst []float32, scale float32) ([]float32, int, error) {
	return d.interleaved(dst, 3, scale)
}

func (d *Decoder) interleaved(dst []float32, dim int, scale float32) ([]float32, int, error) {
	b, err := d.Bytes()
	if err != nil {
		return dst, 0, err
	}
	var last [3]int32
	cnt := 0
	for off := 0; off < len(b); cnt++ {
		v, n := consumeVarint32(b[off:])
		if n < 0 {
			return dst, 0, packedErr(n)
		}
		off += n
		axis := cnt % dim
		last[axis] += ZigZag32(v)
		dst = append(dst, float32(last[axis])/scale)
	}
	if cnt%dim != 0 {
		return dst, 0, fmt.Errorf("%w: %d values do not form %d-d points", ErrInvalidPackedSize, cnt, dim)
	}
	return dst, cnt / dim, nil
}
