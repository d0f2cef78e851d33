package capture

import (
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/resonance/meter/internal/metrics"
	"github.com/resonance/meter/internal/protocol"
)

// Envelope types of the application framing.
const (
	envelopeNotify    = 1
	envelopeFrameDown = 6
)

const (
	// frameLoopCap bounds the extraction loop per drain call.
	frameLoopCap = 4096
	// frameDownDepthMax bounds FrameDown recursion against adversarial
	// nesting.
	frameDownDepthMax = 8
	// headerLen is the fixed frame prefix: u32 size + u16 type.
	headerLen = 6
)

// Record is one decoded application message handed to the encounter engine.
type Record struct {
	Op      protocol.Opcode
	Payload []byte
}

// FrameDecoder extracts length-prefixed frames from a reassembled stream,
// classifies envelopes, decompresses zstd payloads, and emits opcode
// records. A malformed frame is dropped; the stream loop continues.
type FrameDecoder struct {
	log  *zap.Logger
	met  *metrics.Metrics
	zrd  *zstd.Decoder
	emit func(Record)
}

func NewFrameDecoder(log *zap.Logger, met *metrics.Metrics, emit func(Record)) *FrameDecoder {
	// Streaming decoder reused across frames; output size is unknown so
	// DecodeAll grows its destination as needed.
	zrd, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return &FrameDecoder{log: log, met: met, zrd: zrd, emit: emit}
}

// Close releases the zstd decoder.
func (d *FrameDecoder) Close() {
	d.zrd.Close()
}

// Drain extracts every complete frame currently buffered in r. It never
// consumes an incomplete frame: when the peeked size exceeds the buffered
// bytes the loop stops and waits for more segments.
func (d *FrameDecoder) Drain(r *Reassembler) {
	for i := 0; ; i++ {
		if i >= frameLoopCap {
			d.log.Warn("frame extraction loop hit iteration cap")
			break
		}
		stream := r.Buffered()
		if len(stream) < 4 {
			break
		}
		rd := protocol.NewReader(stream)
		size, err := rd.PeekU32()
		if err != nil {
			break
		}
		if size < headerLen {
			// Unrecoverable framing desync; anything before the next
			// Clear() would be garbage, so stop rather than guess.
			d.met.ParseAnomalies.Inc()
			d.log.Warn("frame size below header length", zap.Uint32("size", size))
			break
		}
		if uint32(len(stream)) < size {
			break
		}
		frame := stream[:size]
		d.processFrame(frame, 0)
		r.Consume(int(size))
	}
}

// DecodeBuffer runs frame extraction over a standalone byte buffer
// (FrameDown nesting).
func (d *FrameDecoder) DecodeBuffer(buf []byte, depth int) {
	for i := 0; ; i++ {
		if i >= frameLoopCap {
			d.log.Warn("nested frame loop hit iteration cap")
			return
		}
		if len(buf) < 4 {
			return
		}
		rd := protocol.NewReader(buf)
		size, err := rd.PeekU32()
		if err != nil {
			return
		}
		if size < headerLen || uint32(len(buf)) < size {
			if size < headerLen {
				d.met.ParseAnomalies.Inc()
			}
			return
		}
		d.processFrame(buf[:size], depth)
		buf = buf[size:]
	}
}

// processFrame handles a single complete frame. A panic inside one frame
// terminates that frame only.
func (d *FrameDecoder) processFrame(frame []byte, depth int) {
	defer func() {
		if rec := recover(); rec != nil {
			d.met.ParseAnomalies.Inc()
			d.log.Error("frame handler panic recovered", zap.Any("panic", rec))
		}
	}()

	rd := protocol.NewReader(frame)
	if err := rd.Skip(4); err != nil {
		d.met.ParseAnomalies.Inc()
		return
	}
	packetType, err := rd.ReadU16()
	if err != nil {
		d.met.ParseAnomalies.Inc()
		return
	}
	isZstd := packetType&0x8000 != 0
	msgType := packetType & 0x7fff

	switch msgType {
	case envelopeNotify:
		d.processNotify(rd, isZstd)
	case envelopeFrameDown:
		d.processFrameDown(rd, isZstd, depth)
	default:
		// Other envelope types carry nothing the pipeline needs.
	}
}

func (d *FrameDecoder) processNotify(rd *protocol.Reader, isZstd bool) {
	serviceUUID, err := rd.ReadU64()
	if err != nil {
		d.met.ParseAnomalies.Inc()
		return
	}
	if serviceUUID != protocol.ServiceUUID {
		d.met.ParseAnomalies.Inc()
		d.log.Debug("notify frame with foreign service uuid",
			zap.Uint64("service_uuid", serviceUUID))
		return
	}
	if err := rd.Skip(4); err != nil { // stub id, unused
		d.met.ParseAnomalies.Inc()
		return
	}
	methodID, err := rd.ReadU32()
	if err != nil {
		d.met.ParseAnomalies.Inc()
		return
	}
	payload := rd.ReadRemaining()
	if isZstd {
		decoded, derr := d.zrd.DecodeAll(payload, nil)
		if derr != nil {
			d.met.DecompressFailures.Inc()
			d.log.Debug("notify payload decompression failed", zap.Error(derr))
			return
		}
		payload = decoded
	}

	op := protocol.Opcode(methodID)
	if !op.Known() {
		return
	}
	d.met.FramesDecoded.Inc()
	d.emit(Record{Op: op, Payload: payload})
}

func (d *FrameDecoder) processFrameDown(rd *protocol.Reader, isZstd bool, depth int) {
	if depth >= frameDownDepthMax {
		d.log.Warn("frame nesting depth cap reached")
		return
	}
	if _, err := rd.ReadU32(); err != nil { // sequence id, unused
		d.met.ParseAnomalies.Inc()
		return
	}
	nested := rd.ReadRemaining()
	if isZstd {
		decoded, derr := d.zrd.DecodeAll(nested, nil)
		if derr != nil {
			d.met.DecompressFailures.Inc()
			d.log.Debug("nested frame decompression failed", zap.Error(derr))
			return
		}
		nested = decoded
	}
	d.DecodeBuffer(nested, depth+1)
}
