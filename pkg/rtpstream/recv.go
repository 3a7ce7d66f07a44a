package rtpstream

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"

	"github.com/ionworker/worker/pkg/buffer"
)

// Params describes the static, negotiated shape of one encoding: the fields spec.md
// §3's RtpStream carries alongside the dynamic loss/jitter/score state.
type Params struct {
	Ssrc        uint32
	PayloadType uint8
	ClockRate   uint32
	MimeType    string
	Rid         string
}

// pliInterval bounds how often a Producer forwards a downstream key-frame request for
// the same SSRC upstream, per spec.md §4.7 ("at most one PLI or FIR per 500 ms").
const pliInterval = 500 * time.Millisecond

// RecvListener is notified of score/stream-lifecycle events a Router or Consumer set
// needs to react to.
type RecvListener interface {
	OnRtpStreamScore(stream *RtpStreamRecv, score uint8, previousScore uint8)
}

// RtpStreamRecv is the Producer-side receive state for one encoding: a pkg/buffer
// ring buffer plus the score computation and key-frame-request coalescing spec.md
// §4.7 describes. One exists per active SSRC of a Producer (more for simulcast).
type RtpStreamRecv struct {
	mu sync.Mutex

	Params Params
	buf    *buffer.Buffer

	log logr.Logger

	score   uint8
	active  bool
	lastPli time.Time

	listener RecvListener

	onKeyFrameRequest func(ssrc uint32, fir bool)
}

// NewRtpStreamRecv wraps buf (already registered with the owning transport's
// buffer.Factory) with score tracking for one encoding.
func NewRtpStreamRecv(params Params, buf *buffer.Buffer, log logr.Logger, listener RecvListener) *RtpStreamRecv {
	buf.SetClockRate(params.ClockRate)
	return &RtpStreamRecv{
		Params:   params,
		buf:      buf,
		log:      log,
		listener: listener,
		score:    10,
	}
}

// OnKeyFrameRequest registers the callback used to forward a coalesced PLI/FIR
// upstream to the transport (and ultimately to the remote sender).
func (r *RtpStreamRecv) OnKeyFrameRequest(fn func(ssrc uint32, fir bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onKeyFrameRequest = fn
}

// ReceivePacket ingests one decrypted RTP packet for this encoding, returning any
// NACK pairs that should be sent upstream and whether a key frame should also be
// requested (the buffer's NACK queue asks for one once loss looks unrecoverable).
func (r *RtpStreamRecv) ReceivePacket(pkt []byte) ([]rtcp.NackPair, bool, error) {
	_, pairs, askKeyFrame, err := r.buf.Write(pkt)
	if err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	r.active = true
	r.mu.Unlock()
	return pairs, askKeyFrame, nil
}

// ReceiveSenderReport pairs an incoming RTCP SR with this stream so downstream
// Consumers can build their own SRs from the same NTP/RTP-timestamp anchor.
func (r *RtpStreamRecv) ReceiveSenderReport(sr *rtcp.SenderReport) {
	r.buf.SetSenderReportData(sr.RTPTime, sr.NTPTime)
}

// RequestKeyFrame asks the upstream sender for a fresh key frame, coalescing
// requests within pliInterval per spec.md §4.7. useFir selects FIR over PLI for
// senders that don't support PLI.
func (r *RtpStreamRecv) RequestKeyFrame(useFir bool) {
	r.mu.Lock()
	now := time.Now()
	if now.Sub(r.lastPli) < pliInterval {
		r.mu.Unlock()
		return
	}
	r.lastPli = now
	cb := r.onKeyFrameRequest
	ssrc := r.Params.Ssrc
	r.mu.Unlock()

	if cb != nil {
		cb(ssrc, useFir)
	}
}

// UpdateScore recomputes this stream's [0,10] score from the latest RTCP-interval
// fraction-lost and buffer discard rate, firing OnRtpStreamScore on change. The
// score is the worse (lower) of a loss-derived score, 10 - fractionLost/26, and a
// discard-derived score, 10 - discardRate*10, each floored at 0.
func (r *RtpStreamRecv) UpdateScore(fractionLost uint8, discardRate float64) {
	lossScore := 10 - int(fractionLost)/26 // 256/10 ~= 26 per point
	if lossScore < 0 {
		lossScore = 0
	}
	discardScore := 10 - int(discardRate*10)
	if discardScore < 0 {
		discardScore = 0
	}
	next := lossScore
	if discardScore < next {
		next = discardScore
	}

	r.mu.Lock()
	prev := r.score
	r.score = uint8(next)
	r.mu.Unlock()

	if prev != uint8(next) && r.listener != nil {
		r.listener.OnRtpStreamScore(r, uint8(next), prev)
	}
}

// Score returns the current [0,10] stream score.
func (r *RtpStreamRecv) Score() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score
}

// BuildReceptionReport produces the RFC 3550 ReceptionReport this stream owes the
// sender identified by senderSSRC.
func (r *RtpStreamRecv) BuildReceptionReport(senderSSRC uint32) rtcp.ReceptionReport {
	return r.buf.BuildReceptionReport(senderSSRC)
}

// GetPacket copies the cached packet for sn into buf, for RTX retransmission.
func (r *RtpStreamRecv) GetPacket(buf []byte, sn uint16) (int, error) {
	return r.buf.GetPacket(buf, sn)
}

// Close releases this stream's buffer back to its pool.
func (r *RtpStreamRecv) Close() error {
	return r.buf.Close()
}
