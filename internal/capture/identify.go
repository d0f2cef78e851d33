package capture

import (
	"bytes"

	"go.uber.org/zap"
)

// Server identification. Two payload signatures mark a flow as carrying
// game-server traffic: a fragment chain whose fragments embed the service
// marker, and a fixed-size login packet. These are the only documented
// identification mechanisms; if the wire format changes, the pipeline
// silently degrades to "no active server".

// fragmentMarker appears at offset 5 of every fragment body of an
// identification burst (the 0x63335342 service tag framed in zero bytes).
var fragmentMarker = []byte{0x00, 0x63, 0x33, 0x53, 0x42, 0x00}

// loginPrefix / loginTail are the fixed bytes of the 98-byte login packet.
var (
	loginPrefix = []byte{0x00, 0x00, 0x00, 0x00, 0x62, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01}
	loginTail   = []byte{0x00, 0x00, 0x00, 0x00, 0x0a, 0x4e}
)

const fragmentScanCap = 1000

// Identifier tracks known game-server flows and which one is active.
type Identifier struct {
	known  map[FlowKey]struct{}
	active FlowKey
	hasAct bool
	log    *zap.Logger
}

func NewIdentifier(log *zap.Logger) *Identifier {
	return &Identifier{
		known: make(map[FlowKey]struct{}),
		log:   log,
	}
}

// MatchSignature reports whether the payload looks like game-server
// identification traffic.
func MatchSignature(payload []byte) bool {
	return matchFragmentSignature(payload) || matchLoginSignature(payload)
}

func matchFragmentSignature(payload []byte) bool {
	if len(payload) < 10 || payload[4] != 0 {
		return false
	}
	rest := payload[10:]
	for i := 0; i < fragmentScanCap; i++ {
		if len(rest) < 4 {
			return false
		}
		fragLen := int(uint32(rest[0])<<24 | uint32(rest[1])<<16 | uint32(rest[2])<<8 | uint32(rest[3]))
		if fragLen < 4 || fragLen-4 > len(rest)-4 {
			return false
		}
		body := rest[4 : 4+fragLen-4]
		if len(body) >= 11 && bytes.Equal(body[5:11], fragmentMarker) {
			return true
		}
		rest = rest[fragLen:]
	}
	return false
}

func matchLoginSignature(payload []byte) bool {
	if len(payload) != 98 {
		return false
	}
	return bytes.Equal(payload[:11], loginPrefix) && bytes.Equal(payload[14:20], loginTail)
}

// Promote records the flow as a known game server and makes it active.
func (d *Identifier) Promote(key FlowKey) {
	d.known[key] = struct{}{}
	d.active = key
	d.hasAct = true
	d.log.Info("game server flow promoted",
		zap.Uint16("src_port", key.SrcPort),
		zap.Uint16("dst_port", key.DstPort))
}

// Known reports whether the flow was ever identified as a game server.
func (d *Identifier) Known(key FlowKey) bool {
	_, ok := d.known[key]
	return ok
}

// Active returns the currently active flow, if any.
func (d *Identifier) Active() (FlowKey, bool) {
	return d.active, d.hasAct
}

// IsActive reports whether key is the active flow.
func (d *Identifier) IsActive(key FlowKey) bool {
	return d.hasAct && d.active == key
}

// Activate switches the active flow to a known key.
func (d *Identifier) Activate(key FlowKey) {
	d.active = key
	d.hasAct = true
}
