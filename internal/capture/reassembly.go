package capture

import "go.uber.org/zap"

// appendLoopCap bounds the contiguous-drain loop against malformed input
// driving it forever.
const appendLoopCap = 4096

// FlowKey identifies a TCP flow by its five-tuple (minus protocol).
// Value equality over all bytes.
type FlowKey struct {
	SrcIP   [4]byte
	SrcPort uint16
	DstIP   [4]byte
	DstPort uint16
}

// Reassembler rebuilds one flow's application byte stream from TCP
// segments that may arrive out of order. Segments are cached by sequence
// number until the anchor (next expected sequence) catches up to them.
// There is no ack tracking; a retransmit with the same sequence simply
// overwrites the cached copy, and a persistent gap stalls the stream.
type Reassembler struct {
	anchor    uint32
	hasAnchor bool
	cache     map[uint32][]byte
	stream    []byte
	log       *zap.Logger
}

func NewReassembler(log *zap.Logger) *Reassembler {
	return &Reassembler{
		cache: make(map[uint32][]byte),
		log:   log,
	}
}

// Clear empties the cache and stream and pins the anchor to seq.
func (r *Reassembler) Clear(seq uint32) {
	clear(r.cache)
	r.stream = r.stream[:0]
	r.anchor = seq
	r.hasAnchor = true
}

// SetNext moves the anchor without touching the buffered stream.
func (r *Reassembler) SetNext(seq uint32) {
	r.anchor = seq
	r.hasAnchor = true
}

// Anchor returns the next expected sequence number.
func (r *Reassembler) Anchor() (uint32, bool) {
	return r.anchor, r.hasAnchor
}

// Append inserts a segment and drains everything now contiguous into the
// stream. Same-sequence duplicates are last-writer-wins; segments the
// anchor has already passed stay cached and are never replayed.
func (r *Reassembler) Append(seq uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	r.cache[seq] = buf
	if !r.hasAnchor {
		r.anchor = seq
		r.hasAnchor = true
	}
	for i := 0; ; i++ {
		if i >= appendLoopCap {
			r.log.Warn("reassembly drain loop hit iteration cap",
				zap.Uint32("anchor", r.anchor))
			break
		}
		seg, ok := r.cache[r.anchor]
		if !ok {
			break
		}
		delete(r.cache, r.anchor)
		r.stream = append(r.stream, seg...)
		r.anchor += uint32(len(seg)) // wraps with the sequence space
	}
}

// Buffered returns the contiguous stream collected so far.
func (r *Reassembler) Buffered() []byte {
	return r.stream
}

// Len returns the length of the contiguous stream.
func (r *Reassembler) Len() int {
	return len(r.stream)
}

// Consume discards the first n stream bytes after the frame decoder has
// processed them.
func (r *Reassembler) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(r.stream) {
		r.stream = r.stream[:0]
		return
	}
	rest := copy(r.stream, r.stream[n:])
	r.stream = r.stream[:rest]
}
