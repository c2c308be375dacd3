package pbf

import "google.golang.org/protobuf/encoding/protowire"

// The append helpers produce the encodings Decoder reads. They are used to
// build payloads for stores and fixtures.

func AppendField(b []byte, num int, typ protowire.Type) []byte {
	return protowire.AppendTag(b, protowire.Number(num), typ)
}

func AppendVarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

func EncodeZigZag32(v int32) uint32 {
	return uint32(v<<1) ^ uint32(v>>31)
}

func AppendString(b []byte, s string) []byte {
	return protowire.AppendString(b, s)
}

// AppendPacked writes vals as a length-prefixed varint run.
func AppendPacked(b []byte, vals []int32) []byte {
	var body []byte
	for _, v := range vals {
		body = protowire.AppendVarint(body, uint64(uint32(v)))
	}
	return protowire.AppendBytes(b, body)
}

// AppendInterleavedPoints delta and zig-zag encodes absolute coordinates of
// dim-dimensional points.
func AppendInterleavedPoints(b []byte, coords []int32, dim int) []byte {
	var body []byte
	var last [3]int32
	for i, c := range coords {
		axis := i % dim
		body = protowire.AppendVarint(body, uint64(EncodeZigZag32(c-last[axis])))
		last[axis] = c
	}
	return protowire.AppendBytes(b, body)
}
