package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendVarint and friends build wire payloads for the lenient-parser
// tests; they intentionally mirror the standard protobuf encoding.
func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendTag(buf []byte, field uint32, wire int) []byte {
	return appendVarint(buf, uint64(field)<<3|uint64(wire))
}

func fieldVarint(buf []byte, field uint32, v uint64) []byte {
	buf = appendTag(buf, field, WireVarint)
	return appendVarint(buf, v)
}

func fieldBytes(buf []byte, field uint32, b []byte) []byte {
	buf = appendTag(buf, field, WireBytes)
	buf = appendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func TestWireReaderTagAndVarint(t *testing.T) {
	var buf []byte
	buf = fieldVarint(buf, 1, 300)
	buf = fieldVarint(buf, 12, 7)

	w := NewWireReader(buf)

	field, wire := w.ReadTag()
	assert.Equal(t, uint32(1), field)
	assert.Equal(t, WireVarint, wire)
	v, ok := w.ReadVarint()
	require.True(t, ok)
	assert.Equal(t, uint64(300), v)

	field, _ = w.ReadTag()
	assert.Equal(t, uint32(12), field)
	v, ok = w.ReadVarint()
	require.True(t, ok)
	assert.Equal(t, uint64(7), v)

	assert.False(t, w.More())
}

func TestWireReaderMalformedTagReadsAsEnd(t *testing.T) {
	// A lone continuation byte can never complete a varint.
	w := NewWireReader([]byte{0x80})
	field, _ := w.ReadTag()
	assert.Equal(t, uint32(0), field)
	assert.False(t, w.More())
}

func TestWireReaderSkipAllWireTypes(t *testing.T) {
	var buf []byte
	buf = fieldVarint(buf, 1, 1<<40)
	buf = appendTag(buf, 2, WireFixed64)
	buf = append(buf, 1, 2, 3, 4, 5, 6, 7, 8)
	buf = fieldBytes(buf, 3, []byte("abc"))
	buf = appendTag(buf, 4, WireFixed32)
	buf = append(buf, 1, 2, 3, 4)
	buf = fieldVarint(buf, 5, 99)

	w := NewWireReader(buf)
	for i := 0; i < 4; i++ {
		field, _ := w.ReadTag()
		require.NotZero(t, field)
		w.SkipLastField()
	}
	field, _ := w.ReadTag()
	assert.Equal(t, uint32(5), field)
	v, ok := w.ReadVarint()
	require.True(t, ok)
	assert.Equal(t, uint64(99), v)
}

func TestWireReaderSkipTruncatedValueExhausts(t *testing.T) {
	var buf []byte
	buf = appendTag(buf, 3, WireBytes)
	buf = appendVarint(buf, 100) // declares 100 bytes, delivers none

	w := NewWireReader(buf)
	field, _ := w.ReadTag()
	require.Equal(t, uint32(3), field)
	w.SkipLastField()
	assert.False(t, w.More())
}

func TestWireReaderUnknownWireTypeExhausts(t *testing.T) {
	var buf []byte
	buf = appendTag(buf, 1, 4) // wire type 4 does not exist
	buf = append(buf, 0xff, 0xff)

	w := NewWireReader(buf)
	field, wire := w.ReadTag()
	assert.Equal(t, uint32(1), field)
	assert.Equal(t, 4, wire)
	w.SkipLastField()
	assert.False(t, w.More())
}

func TestWireReaderFixedDecodesLittleEndian(t *testing.T) {
	w := NewWireReader([]byte{0x01, 0x00, 0x00, 0x00})
	v32, ok := w.ReadFixed32()
	require.True(t, ok)
	assert.Equal(t, uint32(1), v32)

	w = NewWireReader([]byte{0x02, 0, 0, 0, 0, 0, 0, 0})
	v64, ok := w.ReadFixed64()
	require.True(t, ok)
	assert.Equal(t, uint64(2), v64)
}

func TestWireReaderOverlongVarint(t *testing.T) {
	w := NewWireReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	_, ok := w.ReadVarint()
	assert.False(t, ok)
}
