package protocol

// Wire types of the protobuf-style tag/value encoding the game uses for
// message payloads.
const (
	WireVarint  = 0
	WireFixed64 = 1
	WireBytes   = 2
	WireFixed32 = 5
)

// WireReader walks the tag/value stream of a message payload. It is
// deliberately lenient: a malformed tag or a truncated value reads as
// end-of-stream instead of an error, so a bad subtree can never take the
// whole message down.
type WireReader struct {
	data     []byte
	off      int
	lastWire int
}

func NewWireReader(data []byte) *WireReader {
	return &WireReader{data: data}
}

// More reports whether unread bytes remain.
func (w *WireReader) More() bool {
	return w.off < len(w.data)
}

// ReadTag reads the next field tag and returns (field number, wire type).
// A malformed or truncated tag exhausts the reader and returns field 0;
// callers treat field 0 as end-of-stream.
func (w *WireReader) ReadTag() (uint32, int) {
	v, ok := w.readVarint()
	if !ok {
		w.off = len(w.data)
		return 0, 0
	}
	w.lastWire = int(v & 0x7)
	return uint32(v >> 3), w.lastWire
}

// ReadVarint reads a varint value for the last tag.
func (w *WireReader) ReadVarint() (uint64, bool) {
	return w.readVarint()
}

// ReadFixed64 reads 8 little-endian bytes.
func (w *WireReader) ReadFixed64() (uint64, bool) {
	if w.off+8 > len(w.data) {
		return 0, false
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(w.data[w.off+i])
	}
	w.off += 8
	return v, true
}

// ReadFixed32 reads 4 little-endian bytes.
func (w *WireReader) ReadFixed32() (uint32, bool) {
	if w.off+4 > len(w.data) {
		return 0, false
	}
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(w.data[w.off+i])
	}
	w.off += 4
	return v, true
}

// ReadBytes reads a length-delimited value. The returned slice aliases the
// underlying data.
func (w *WireReader) ReadBytes() ([]byte, bool) {
	n, ok := w.readVarint()
	if !ok || n > uint64(len(w.data)-w.off) {
		return nil, false
	}
	b := w.data[w.off : w.off+int(n)]
	w.off += int(n)
	return b, true
}

// SkipLastField skips the value of the most recently read tag. It never
// fails: anything malformed exhausts the reader, which ends the field loop.
func (w *WireReader) SkipLastField() {
	switch w.lastWire {
	case WireVarint:
		if _, ok := w.readVarint(); !ok {
			w.off = len(w.data)
		}
	case WireFixed64:
		if w.off+8 > len(w.data) {
			w.off = len(w.data)
			return
		}
		w.off += 8
	case WireBytes:
		n, ok := w.readVarint()
		if !ok || n > uint64(len(w.data)-w.off) {
			w.off = len(w.data)
			return
		}
		w.off += int(n)
	case WireFixed32:
		if w.off+4 > len(w.data) {
			w.off = len(w.data)
			return
		}
		w.off += 4
	default:
		w.off = len(w.data)
	}
}

func (w *WireReader) readVarint() (uint64, bool) {
	var v uint64
	for shift := 0; shift < 64; shift += 7 {
		if w.off >= len(w.data) {
			return 0, false
		}
		b := w.data[w.off]
		w.off++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, true
		}
	}
	return 0, false // varint longer than 10 bytes
}
