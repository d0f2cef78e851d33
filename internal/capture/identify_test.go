package capture

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// buildFragmentPayload assembles an identification burst: a 10-byte
// preamble with byte 4 zero, then fragments of [u32 len][body] where the
// matching fragment's body carries the service marker at offset 5.
func buildFragmentPayload(withMarker bool) []byte {
	payload := make([]byte, 10) // payload[4] == 0

	// A leading fragment without the marker.
	body1 := make([]byte, 12)
	payload = appendFragment(payload, body1)

	body2 := make([]byte, 16)
	if withMarker {
		copy(body2[5:], fragmentMarker)
	}
	payload = appendFragment(payload, body2)
	return payload
}

func appendFragment(buf, body []byte) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(body)+4))
	buf = append(buf, lenBytes[:]...)
	return append(buf, body...)
}

func TestFragmentSignature(t *testing.T) {
	assert.True(t, MatchSignature(buildFragmentPayload(true)))
	assert.False(t, MatchSignature(buildFragmentPayload(false)))
}

func TestFragmentSignatureRequiresZeroByte(t *testing.T) {
	payload := buildFragmentPayload(true)
	payload[4] = 1
	assert.False(t, MatchSignature(payload))
}

func TestFragmentSignatureShortPayload(t *testing.T) {
	assert.False(t, MatchSignature([]byte{0, 0, 0, 0, 0}))
	assert.False(t, MatchSignature(nil))
}

func TestFragmentSignatureTruncatedFragment(t *testing.T) {
	payload := make([]byte, 10)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], 1000) // declares far more than present
	payload = append(payload, lenBytes[:]...)
	payload = append(payload, make([]byte, 8)...)
	assert.False(t, MatchSignature(payload))
}

func buildLoginPayload() []byte {
	payload := make([]byte, 98)
	copy(payload, loginPrefix)
	copy(payload[14:], loginTail)
	return payload
}

func TestLoginSignature(t *testing.T) {
	assert.True(t, MatchSignature(buildLoginPayload()))
}

func TestLoginSignatureExactLengthOnly(t *testing.T) {
	payload := append(buildLoginPayload(), 0x00)
	assert.False(t, MatchSignature(payload))
	assert.False(t, MatchSignature(buildLoginPayload()[:97]))
}

func TestLoginSignatureWrongBytes(t *testing.T) {
	payload := buildLoginPayload()
	payload[4] = 0x63
	assert.False(t, MatchSignature(payload))

	payload = buildLoginPayload()
	payload[19] = 0x00
	assert.False(t, MatchSignature(payload))
}

func TestIdentifierFlowBookkeeping(t *testing.T) {
	ident := NewIdentifier(zap.NewNop())
	a := FlowKey{SrcPort: 1, DstPort: 2}
	b := FlowKey{SrcPort: 3, DstPort: 4}

	_, ok := ident.Active()
	assert.False(t, ok)

	ident.Promote(a)
	assert.True(t, ident.Known(a))
	assert.True(t, ident.IsActive(a))

	ident.Promote(b)
	assert.True(t, ident.Known(a), "promotion accumulates known flows")
	assert.True(t, ident.IsActive(b))
	assert.False(t, ident.IsActive(a))

	ident.Activate(a)
	assert.True(t, ident.IsActive(a))
	active, ok := ident.Active()
	assert.True(t, ok)
	assert.Equal(t, a, active)
}
