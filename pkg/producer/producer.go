// Package producer implements the Producer component of spec.md §4.7: the
// controller-facing endpoint that accepts RTP for one track, classifies it per
// encoding, and fans the media and its trace events out to the owning Transport
// (which forwards to the Router). Structured the way the teacher structures its
// stream-owning types in pkg/buffer/factory.go: a plain struct guarded by a mutex,
// callbacks registered with OnX methods instead of channels.
package producer

import (
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ionworker/worker/pkg/buffer"
	"github.com/ionworker/worker/pkg/rtpstream"
	"github.com/ionworker/worker/pkg/twcc"
)

// Kind is the media kind of a Producer, exactly one of audio or video.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "video"
}

// ErrUnknownSsrc is returned by ReceiveRtp/ReceiveRtcp when the packet's SSRC
// doesn't match any encoding or its RTX pair known to this Producer.
var ErrUnknownSsrc = errors.New("producer: unknown ssrc")

// Encoding is one negotiated simulcast/SVC layer: a media SSRC, its optional RTX
// SSRC, and the RID used to disambiguate layers that share a payload type (spec.md
// §4.7: "looks up the matching encoding by ssrc or by rid header extension").
type Encoding struct {
	Ssrc    uint32
	RtxSsrc uint32
	Rid     string
}

// Listener receives Producer lifecycle and media events, consumed by the Router to
// fan out NewRtpStream/RtpStreamScore to bound Consumers and by the Transport to
// forward decoded media and coalesced key-frame requests upstream.
type Listener interface {
	OnProducerNewRtpStream(p *Producer, stream *rtpstream.RtpStreamRecv)
	OnProducerRtpStreamScore(p *Producer, stream *rtpstream.RtpStreamRecv, score, previousScore uint8)
	OnProducerReceivedRtpPacket(p *Producer, stream *rtpstream.RtpStreamRecv, header *rtp.Header, payload []byte)
	OnProducerRequestKeyFrame(p *Producer, ssrc uint32, fir bool)
	OnProducerSendNack(p *Producer, ssrc uint32, pairs []rtcp.NackPair)
	OnProducerSendTransportCCFeedback(p *Producer, pkt rtcp.RawPacket)
	OnProducerTrace(p *Producer, event TraceEventType, ssrc uint32)
}

// TraceEventType names one of the Producer-side events spec.md §3's
// "mutated by pause/resume/enableTraceEvent" lifecycle can report to the
// controller once subscribed via EnableTraceEvent.
type TraceEventType int

const (
	TraceEventKeyFrame TraceEventType = iota
	TraceEventFIR
	TraceEventPLI
	TraceEventRTP
	TraceEventNACK
)

func (t TraceEventType) String() string {
	switch t {
	case TraceEventKeyFrame:
		return "keyframe"
	case TraceEventFIR:
		return "fir"
	case TraceEventPLI:
		return "pli"
	case TraceEventRTP:
		return "rtp"
	case TraceEventNACK:
		return "nack"
	default:
		return "unknown"
	}
}

// Producer is one controller-created media source within a Transport.
type Producer struct {
	mu sync.Mutex

	ID     string
	Kind   Kind
	Ext    rtpstream.ExtensionMap
	paused bool
	closed bool

	log      logr.Logger
	listener Listener

	encodings map[uint32]*Encoding // keyed by media ssrc
	rtxIndex  map[uint32]uint32    // rtx ssrc -> media ssrc
	ridIndex  map[string]uint32    // rid -> media ssrc
	spatial   map[uint32]int       // media ssrc -> spatial layer index, in negotiated order

	streams map[uint32]*rtpstream.RtpStreamRecv // keyed by media ssrc

	twcc        *twcc.Responder
	traceEvents map[TraceEventType]bool
}

// New creates a Producer over encodings, each of which gets its own
// rtpstream.RtpStreamRecv backed by a fresh buffer from factory.
func New(id string, kind Kind, ext rtpstream.ExtensionMap, encodings []Encoding, clockRate uint32, factory *buffer.Factory, log logr.Logger, listener Listener) *Producer {
	p := &Producer{
		ID:        id,
		Kind:      kind,
		Ext:       ext,
		log:       log,
		listener:  listener,
		encodings: make(map[uint32]*Encoding, len(encodings)),
		rtxIndex:  make(map[uint32]uint32, len(encodings)),
		ridIndex:  make(map[string]uint32, len(encodings)),
		spatial:   make(map[uint32]int, len(encodings)),
		streams:   make(map[uint32]*rtpstream.RtpStreamRecv, len(encodings)),
	}

	if ext.TransportWideCC != 0 && len(encodings) > 0 {
		p.twcc = twcc.NewTransportWideCCResponder(encodings[0].Ssrc)
		p.twcc.OnFeedback(func(pkt rtcp.RawPacket) {
			listener.OnProducerSendTransportCCFeedback(p, pkt)
		})
	}

	for i := range encodings {
		enc := encodings[i]
		p.encodings[enc.Ssrc] = &enc
		p.spatial[enc.Ssrc] = i
		if enc.RtxSsrc != 0 {
			p.rtxIndex[enc.RtxSsrc] = enc.Ssrc
		}
		if enc.Rid != "" {
			p.ridIndex[enc.Rid] = enc.Ssrc
		}

		buf := factory.GetOrNewBuffer(enc.Ssrc)
		if kind == KindAudio {
			buf.SetAudio(true)
		}
		stream := rtpstream.NewRtpStreamRecv(rtpstream.Params{
			Ssrc:      enc.Ssrc,
			ClockRate: clockRate,
			Rid:       enc.Rid,
		}, buf, log, p)
		stream.OnKeyFrameRequest(func(ssrc uint32, fir bool) {
			listener.OnProducerRequestKeyFrame(p, ssrc, fir)
			if fir {
				p.trace(TraceEventFIR, ssrc)
			} else {
				p.trace(TraceEventPLI, ssrc)
			}
		})
		p.streams[enc.Ssrc] = stream
		listener.OnProducerNewRtpStream(p, stream)
	}

	return p
}

// OnRtpStreamScore implements rtpstream.RecvListener, forwarding score changes to
// the Producer's own listener (ultimately the Router, spec.md §4.7).
func (p *Producer) OnRtpStreamScore(stream *rtpstream.RtpStreamRecv, score, previousScore uint8) {
	p.listener.OnProducerRtpStreamScore(p, stream, score, previousScore)
}

// ReceiveRtp ingests one decrypted RTP packet whose SSRC belongs to this Producer,
// either as media for some encoding or as an RTX retransmission for one.
func (p *Producer) ReceiveRtp(pkt []byte) error {
	var hdr rtp.Header
	n, err := hdr.Unmarshal(pkt)
	if err != nil {
		return err
	}

	p.mu.Lock()
	paused := p.paused
	closed := p.closed
	mediaSsrc, isRtx := p.rtxIndex[hdr.SSRC]
	if !isRtx {
		mediaSsrc = hdr.SSRC
	}
	stream, ok := p.streams[mediaSsrc]
	p.mu.Unlock()

	if closed {
		return nil
	}
	if !ok {
		return ErrUnknownSsrc
	}
	if isRtx {
		originalSeq, original, ok := rtpstream.RtxDecode(pkt[n:])
		if !ok {
			return nil
		}
		pkt = rebuildRtxPacket(hdr, mediaSsrc, originalSeq, original)
	}

	if paused {
		// Pausing drops packets silently while stats continue: the packet is
		// written to the stream's buffer but not forwarded.
		_, _, err := stream.ReceivePacket(pkt)
		return err
	}

	return p.deliverToStream(stream, pkt)
}

func (p *Producer) deliverToStream(stream *rtpstream.RtpStreamRecv, pkt []byte) error {
	pairs, askKeyFrame, err := stream.ReceivePacket(pkt)
	if err != nil {
		return err
	}
	if len(pairs) > 0 {
		p.listener.OnProducerSendNack(p, stream.Params.Ssrc, pairs)
		p.trace(TraceEventNACK, stream.Params.Ssrc)
	}
	if askKeyFrame {
		stream.RequestKeyFrame(false)
	}

	var hdr rtp.Header
	n, err := hdr.Unmarshal(pkt)
	if err != nil {
		return err
	}
	payload := pkt[n:]

	if p.twcc != nil {
		if sn, ok := rtpstream.TransportWideCCSeq(&hdr, p.Ext); ok {
			p.twcc.Push(sn, time.Now().UnixNano(), hdr.Marker)
		}
	}
	p.trace(TraceEventRTP, stream.Params.Ssrc)
	if p.Kind == KindVideo && p.traceEnabled(TraceEventKeyFrame) && len(payload) > 0 {
		var vp8 buffer.VP8
		if err := vp8.Unmarshal(payload); err == nil && vp8.IsKeyFrame {
			p.trace(TraceEventKeyFrame, stream.Params.Ssrc)
		}
	}

	p.listener.OnProducerReceivedRtpPacket(p, stream, &hdr, payload)
	return nil
}

// trace emits event to the controller if it's currently subscribed.
func (p *Producer) trace(event TraceEventType, ssrc uint32) {
	if p.traceEnabled(event) {
		p.listener.OnProducerTrace(p, event, ssrc)
	}
}

func (p *Producer) traceEnabled(event TraceEventType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.traceEvents[event]
}

// rebuildRtxPacket reconstructs the original media packet from an RTX packet's
// header and decoded original sequence number/payload (spec.md §4.7).
func rebuildRtxPacket(rtxHdr rtp.Header, mediaSsrc uint32, originalSeq uint16, originalPayload []byte) []byte {
	hdr := rtxHdr
	hdr.SSRC = mediaSsrc
	hdr.SequenceNumber = originalSeq
	out := make([]byte, hdr.MarshalSize()+len(originalPayload))
	n, _ := hdr.MarshalTo(out)
	copy(out[n:], originalPayload)
	return out[:n+len(originalPayload)]
}

// ReceiveRtcp ingests an RTCP sender report addressed to one of this Producer's
// streams, pairing it for downstream sender-report construction.
func (p *Producer) ReceiveRtcp(sr *rtcp.SenderReport) {
	p.mu.Lock()
	stream, ok := p.streams[sr.SSRC]
	p.mu.Unlock()
	if !ok {
		return
	}
	stream.ReceiveSenderReport(sr)
}

// Pause stops media forwarding without tearing down streams; stats keep accruing.
func (p *Producer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables media forwarding.
func (p *Producer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Paused reports whether this Producer is currently paused.
func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// EnableTraceEvent replaces the set of trace events this Producer reports to the
// controller (spec.md §3: "mutated by pause/resume/enableTraceEvent"). An empty
// types disables tracing entirely, matching how a fresh call always replaces
// rather than merges the subscribed set.
func (p *Producer) EnableTraceEvent(types []TraceEventType) {
	p.mu.Lock()
	p.traceEvents = make(map[TraceEventType]bool, len(types))
	for _, t := range types {
		p.traceEvents[t] = true
	}
	p.mu.Unlock()
}

// Streams returns every active RtpStreamRecv, used by the Router to replay current
// stream state to a newly bound Consumer.
func (p *Producer) Streams() []*rtpstream.RtpStreamRecv {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*rtpstream.RtpStreamRecv, 0, len(p.streams))
	for _, s := range p.streams {
		out = append(out, s)
	}
	return out
}

// SpatialLayer returns the negotiated-order index of the encoding whose media
// ssrc is ssrc, for the Router to translate a received stream into the spatial
// layer argument consumer.Consumer.ForwardRtp expects.
func (p *Producer) SpatialLayer(ssrc uint32) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.spatial[ssrc]
	return i, ok
}

// Close tears down every encoding's stream. Idempotent.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	streams := p.streams
	p.mu.Unlock()

	for _, s := range streams {
		_ = s.Close()
	}
	return nil
}
