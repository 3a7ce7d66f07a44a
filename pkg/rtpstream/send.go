package rtpstream

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ionworker/worker/pkg/util"
)

// SendParams is the negotiated shape of one outgoing encoding: the consumer's own
// SSRC/RTX-SSRC pair and the extension id map it advertised to its remote.
type SendParams struct {
	Ssrc      uint32
	RtxSsrc   uint32
	ClockRate uint32
	Ext       ExtensionMap
}

// rtxHistorySize bounds the per-stream retransmission cache (spec.md §3's
// Consumer "last sent RTP timestamp and sequence per stream, for RTX offset"),
// a ring large enough to cover a NACK round trip on a typical access link
// without growing unbounded for a stream nobody ever asks to retransmit.
const rtxHistorySize = 256

// cachedPacket is one stored outgoing packet, enough to rebuild it as an RTX
// retransmission (spec.md §4.7's 2-byte OSN prefix needs the original sequence
// number and payload; the rest of the RTX header is fresh).
type cachedPacket struct {
	seq         uint16
	timestamp   uint32
	marker      bool
	payloadType uint8
	payload     []byte
}

// RtpStreamSend is the Consumer-side rewrite state for one outgoing encoding: it
// remaps an incoming RtpStreamRecv's SSRC/sequence/timestamp onto this Consumer's own
// numbering so that switching which Producer encoding feeds it (simulcast/SVC layer
// switches) never produces a discontinuity the remote's jitter buffer would reject.
type RtpStreamSend struct {
	mu sync.Mutex

	Params SendParams

	started      bool
	seqOffset    uint16
	tsOffset     uint32
	lastOutSeq   uint16
	lastOutTs    uint32
	lastInSeq    uint16
	lastInTs     uint32

	packetCount uint32
	octetCount  uint64

	transportWideSeq uint16

	history    []cachedPacket
	historyPos int
	rtxSeq     uint16
}

// NewRtpStreamSend creates the rewrite state for one outgoing encoding.
func NewRtpStreamSend(params SendParams) *RtpStreamSend {
	return &RtpStreamSend{Params: params}
}

// RewritePacket rewrites pkt (already unmarshalled into hdr/payload by the caller) in
// place to this Consumer's outgoing numbering: SSRC, sequence number offset to
// preserve monotonicity across a layer switch, RTP timestamp offset to stay aligned
// with the paired NTP anchor, an empty MID passed to UpdateMid, and a fresh
// transport-wide-cc sequence number; the RID and other extensions are left as
// received. It returns false if the input sequence number is not newer than the
// last one forwarded (a duplicate or late packet), which should not be forwarded.
func (s *RtpStreamSend) RewritePacket(pkt *rtp.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		s.seqOffset = s.lastOutSeq + 1 - pkt.SequenceNumber
		s.tsOffset = 0
	} else if util.IsSeqNewer(pkt.SequenceNumber, s.lastInSeq) {
		// A new source layer was switched in: re-anchor so output stays monotonic.
		if pkt.Timestamp != s.lastInTs {
			s.seqOffset = s.lastOutSeq + 1 - pkt.SequenceNumber
		}
	} else {
		return false
	}

	pkt.SSRC = s.Params.Ssrc
	pkt.SequenceNumber += s.seqOffset
	pkt.Timestamp += s.tsOffset

	UpdateMid(&pkt.Header, s.Params.Ext, "")
	s.transportWideSeq++
	UpdateTransportWideCC01(&pkt.Header, s.Params.Ext, s.transportWideSeq)

	s.lastInSeq = pkt.SequenceNumber - s.seqOffset
	s.lastInTs = pkt.Timestamp - s.tsOffset
	s.lastOutSeq = pkt.SequenceNumber
	s.lastOutTs = pkt.Timestamp

	s.packetCount++
	s.octetCount += uint64(len(pkt.Payload))

	s.cachePacket(pkt)

	return true
}

// cachePacket records pkt (already rewritten onto this stream's own numbering)
// in the bounded RTX history, overwriting the oldest entry once full. Called
// with s.mu already held.
func (s *RtpStreamSend) cachePacket(pkt *rtp.Packet) {
	entry := cachedPacket{
		seq:         pkt.SequenceNumber,
		timestamp:   pkt.Timestamp,
		marker:      pkt.Marker,
		payloadType: pkt.PayloadType,
		payload:     append([]byte(nil), pkt.Payload...),
	}
	if len(s.history) < rtxHistorySize {
		s.history = append(s.history, entry)
		return
	}
	s.history[s.historyPos] = entry
	s.historyPos = (s.historyPos + 1) % rtxHistorySize
}

// BuildRtxPacket looks up seq (this stream's own outgoing sequence number) in
// the retransmission cache and returns a ready-to-send RTX packet: Params.RtxSsrc,
// a fresh RTX sequence number, and RtxEncode's 2-byte OSN prefix ahead of the
// original payload. ok is false if seq already aged out of the cache or this
// stream has no negotiated RTX ssrc.
func (s *RtpStreamSend) BuildRtxPacket(seq uint16) (*rtp.Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Params.RtxSsrc == 0 {
		return nil, false
	}
	var cached cachedPacket
	found := false
	for _, e := range s.history {
		if e.seq == seq {
			cached = e
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	s.rtxSeq++
	hdr := rtp.Header{
		Version:        2,
		PayloadType:    cached.payloadType,
		SequenceNumber: s.rtxSeq,
		Timestamp:      cached.timestamp,
		SSRC:           s.Params.RtxSsrc,
		Marker:         cached.marker,
	}
	return &rtp.Packet{Header: hdr, Payload: RtxEncode(cached.seq, cached.payload)}, true
}

// SetTimestampOffset re-anchors the outgoing timebase when a layer switch also
// changes clock alignment, derived from the paired NTP anchors of the old and new
// source streams (computed by the caller, which has access to both RtpStreamRecvs).
func (s *RtpStreamSend) SetTimestampOffset(offset uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tsOffset = offset
}

// BuildSenderReport produces an RTCP SenderReport for this outgoing stream, scaling
// ntpNow/rtpNow (the paired anchor from the source RtpStreamRecv, offset-adjusted) to
// this stream's own numbering.
func (s *RtpStreamSend) BuildSenderReport(ntpNow uint64, rtpNow uint32) rtcp.SenderReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rtcp.SenderReport{
		SSRC:        s.Params.Ssrc,
		NTPTime:     ntpNow,
		RTPTime:     rtpNow + s.tsOffset,
		PacketCount: s.packetCount,
		OctetCount:  uint32(s.octetCount),
	}
}

// ConsumeReceiverReport updates loss/RTT bookkeeping from a receiver report the
// remote sent back about this outgoing SSRC. RTT is left to the caller (it needs the
// DLSR/LSR pair plus its own send-time clock, which lives at the Transport level).
func (s *RtpStreamSend) ConsumeReceiverReport(rr *rtcp.ReceptionReport) (fractionLost uint8) {
	return rr.FractionLost
}

// RtxEncode builds the RTX payload for a retransmitted packet: a 2-byte original
// sequence number prefix followed by the original payload, sent under RtxSsrc with a
// fresh RTX sequence number (tracked by the caller's own RtpStreamSend for the RTX
// SSRC, mirroring how the Producer side decodes it in reverse).
func RtxEncode(originalSeq uint16, payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	out[0] = byte(originalSeq >> 8)
	out[1] = byte(originalSeq)
	copy(out[2:], payload)
	return out
}

// RtxDecode reverses RtxEncode: given the RTX payload, returns the original sequence
// number and payload, as the Producer side needs when it receives a retransmission
// (spec.md §4.7: "2-byte OSN prefix becomes the new seq").
func RtxDecode(payload []byte) (originalSeq uint16, original []byte, ok bool) {
	if len(payload) < 2 {
		return 0, nil, false
	}
	return uint16(payload[0])<<8 | uint16(payload[1]), payload[2:], true
}
