package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/resonance/meter/internal/metrics"
	"github.com/resonance/meter/internal/protocol"
)

// ErrNoCaptureDevice is fatal: without at least one opened interface the
// service cannot do anything.
var ErrNoCaptureDevice = errors.New("capture: no usable capture device")

// Options configures the capture driver.
type Options struct {
	// BPF is the kernel filter expression. The pipeline only understands
	// TCP, so anything wider than "tcp" is wasted work.
	BPF string
	// SnapLen is the per-packet capture length.
	SnapLen int
	// Promiscuous opens devices in promiscuous mode.
	Promiscuous bool
	// DeviceFilter, when non-empty, restricts capture to devices whose
	// name or description contains the substring (case-insensitive).
	DeviceFilter string
}

const captureTimeout = 500 * time.Millisecond

// queueSize is the opcode queue capacity. Writes never block capture
// threads: when the engine falls this far behind, records are dropped and
// counted instead.
const queueSize = 4096

// Sniffer owns packet capture across all suitable interfaces and the
// flow-to-reassembler binding. One goroutine per device feeds a shared
// identification/reassembly/decode path behind a single mutex.
type Sniffer struct {
	log    *zap.Logger
	met    *metrics.Metrics
	opts   Options
	ident  *Identifier
	reasm  *Reassembler
	frames *FrameDecoder
	out    chan Record

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewSniffer(opts Options, log *zap.Logger, met *metrics.Metrics) *Sniffer {
	s := &Sniffer{
		log:   log,
		met:   met,
		opts:  opts,
		ident: NewIdentifier(log),
		reasm: NewReassembler(log),
		out:   make(chan Record, queueSize),
	}
	s.frames = NewFrameDecoder(log, met, s.enqueue)
	return s
}

// Records returns the opcode queue. The channel is closed after every
// capture goroutine has stopped.
func (s *Sniffer) Records() <-chan Record {
	return s.out
}

// Start opens every suitable device and begins capturing. It returns
// ErrNoCaptureDevice when not a single device could be opened; a failure
// on one device is logged and the others continue.
func (s *Sniffer) Start(ctx context.Context) error {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("enumerate capture devices: %w", err)
	}

	opened := 0
	for _, dev := range devs {
		if s.skipDevice(dev) {
			continue
		}
		handle, err := pcap.OpenLive(dev.Name, int32(s.opts.SnapLen), s.opts.Promiscuous, captureTimeout)
		if err != nil {
			s.log.Warn("cannot open capture device",
				zap.String("device", dev.Name), zap.Error(err))
			continue
		}
		if err := handle.SetBPFFilter(s.opts.BPF); err != nil {
			s.log.Warn("cannot set BPF filter",
				zap.String("device", dev.Name), zap.Error(err))
			handle.Close()
			continue
		}
		s.log.Info("capturing", zap.String("device", dev.Name),
			zap.String("bpf", s.opts.BPF))
		opened++
		s.wg.Add(1)
		go s.captureLoop(ctx, handle, dev.Name)
	}

	if opened == 0 {
		return ErrNoCaptureDevice
	}

	go func() {
		s.wg.Wait()
		s.frames.Close()
		close(s.out)
	}()
	return nil
}

func (s *Sniffer) skipDevice(dev pcap.Interface) bool {
	desc := strings.ToLower(dev.Description)
	if strings.Contains(desc, "loopback") || strings.Contains(desc, "bluetooth") {
		return true
	}
	if s.opts.DeviceFilter != "" {
		filter := strings.ToLower(s.opts.DeviceFilter)
		if !strings.Contains(strings.ToLower(dev.Name), filter) &&
			!strings.Contains(desc, filter) {
			return true
		}
	}
	return false
}

// captureLoop reads packets from one device until ctx is cancelled. The
// pcap read timeout doubles as the cancellation polling interval.
func (s *Sniffer) captureLoop(ctx context.Context, handle *pcap.Handle, name string) {
	defer s.wg.Done()
	defer handle.Close()

	linkType := handle.LinkType()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, _, err := handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			s.log.Warn("capture stopped on device",
				zap.String("device", name), zap.Error(err))
			return
		}

		pkt := gopacket.NewPacket(data, linkType, gopacket.Lazy)
		ipLayer := pkt.Layer(layers.LayerTypeIPv4)
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if ipLayer == nil || tcpLayer == nil {
			continue
		}
		ip := ipLayer.(*layers.IPv4)
		tcp := tcpLayer.(*layers.TCP)
		if len(tcp.Payload) == 0 {
			continue
		}
		s.met.PacketsSeen.Inc()
		s.handleSegment(ip, tcp)
	}
}

// handleSegment routes one TCP segment through identification and
// reassembly. Serialized across capture goroutines; all flow state lives
// behind s.mu.
func (s *Sniffer) handleSegment(ip *layers.IPv4, tcp *layers.TCP) {
	var key FlowKey
	copy(key.SrcIP[:], ip.SrcIP.To4())
	copy(key.DstIP[:], ip.DstIP.To4())
	key.SrcPort = uint16(tcp.SrcPort)
	key.DstPort = uint16(tcp.DstPort)

	payload := tcp.Payload
	seq := uint32(tcp.Seq)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.ident.IsActive(key):
		// The active flow's own data is never re-inspected: Notify frames
		// legitimately carry the service-uuid pattern the fragment
		// signature looks for.
		s.reasm.Append(seq, payload)
		s.met.SegmentsReassembled.Inc()
		s.frames.Drain(s.reasm)
	case MatchSignature(payload):
		// Identification traffic promotes the flow; the triggering packet
		// itself is not forwarded to reassembly.
		s.ident.Promote(key)
		s.reasm.Clear(seq + uint32(len(payload)))
		s.enqueue(Record{Op: protocol.OpServerChange})
	case s.ident.Known(key):
		// A known-but-dormant server spoke again: switch back to it.
		s.ident.Activate(key)
		s.reasm.Clear(seq + uint32(len(payload)))
		s.log.Info("active game server switched",
			zap.Uint16("src_port", key.SrcPort))
		s.enqueue(Record{Op: protocol.OpServerChange})
	default:
		s.met.PacketsDropped.Inc()
	}
}

func (s *Sniffer) enqueue(rec Record) {
	select {
	case s.out <- rec:
		s.met.OpcodesDispatched.WithLabelValues(rec.Op.String()).Inc()
	default:
		s.met.RecordsDropped.Inc()
		s.log.Warn("opcode queue full, record dropped",
			zap.String("opcode", rec.Op.String()))
	}
}
