// Package consumer implements the Consumer component of spec.md §4.8: the
// controller-facing endpoint that forwards a Producer's media to one remote,
// choosing which encoding/layer to forward right now and rewriting every packet
// onto the Consumer's own SSRC/sequence/timestamp numbering.
package consumer

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ionworker/worker/pkg/buffer"
	"github.com/ionworker/worker/pkg/rtpstream"
)

// Type is the Consumer variant, one per spec.md §3's "Consumer variants".
type Type int

const (
	TypeSimple Type = iota
	TypeSimulcast
	TypeSVC
	TypePipe
)

// srInterval is the per-media RTCP sender-report cadence (spec.md §4.8).
func srInterval(audio bool) time.Duration {
	if audio {
		return 5 * time.Second
	}
	return time.Second
}

// Layers identifies a spatial/temporal layer pair; -1 means "no preference/none".
type Layers struct {
	Spatial  int
	Temporal int
}

// source is one candidate encoding this Consumer could forward from: the
// Producer-side receive stream plus the spatial layer index it represents.
type source struct {
	spatial int
	recv    *rtpstream.RtpStreamRecv
}

// Listener receives events a Consumer needs to hand back up to its Transport/Router.
type Listener interface {
	OnConsumerSendRtp(c *Consumer, pkt *rtp.Packet)
	OnConsumerRequestKeyFrame(c *Consumer, ssrc uint32)
}

// Consumer forwards a ProducerID's media to one remote endpoint.
type Consumer struct {
	mu sync.Mutex

	ID         string
	ProducerID string
	Type       Type
	Audio      bool

	log      logr.Logger
	listener Listener

	sources map[int]*source // keyed by spatial layer index; TypePipe keys by encoding order
	send    map[int]*rtpstream.RtpStreamSend

	// sendBySsrc indexes the same RtpStreamSend values by outgoing media ssrc, for
	// Retransmit to resolve a TransportLayerNack's MediaSSRC without a linear scan.
	sendBySsrc map[uint32]*rtpstream.RtpStreamSend

	preferred      Layers
	current        Layers
	priority       int
	producerPaused bool
	producerClosed bool
	paused         bool
	keyFrameWanted bool

	vp8 map[int]*buffer.VP8 // last parsed VP8 descriptor per spatial layer, for TID filtering
}

// New creates a Consumer of the given type forwarding ProducerID's streams, with one
// RtpStreamSend per encoding already bound to outSsrcs (mapped ssrc set, one per
// source spatial layer in ascending order; for pipe, one per encoding).
func New(id, producerID string, typ Type, audio bool, outSsrcs []rtpstream.SendParams, log logr.Logger, listener Listener) *Consumer {
	c := &Consumer{
		ID:         id,
		ProducerID: producerID,
		Type:       typ,
		Audio:      audio,
		log:        log,
		listener:   listener,
		sources:    make(map[int]*source),
		send:       make(map[int]*rtpstream.RtpStreamSend, len(outSsrcs)),
		sendBySsrc: make(map[uint32]*rtpstream.RtpStreamSend, len(outSsrcs)),
		preferred:  Layers{Spatial: -1, Temporal: -1},
		current:    Layers{Spatial: -1, Temporal: -1},
		priority:   1,
		vp8:        make(map[int]*buffer.VP8),
	}
	for i, params := range outSsrcs {
		stream := rtpstream.NewRtpStreamSend(params)
		c.send[i] = stream
		c.sendBySsrc[params.Ssrc] = stream
	}
	return c
}

// AddSource registers one Producer-side encoding as a candidate to forward from,
// spatial being its layer index (0 for simple/pipe-per-encoding).
func (c *Consumer) AddSource(spatial int, recv *rtpstream.RtpStreamRecv) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[spatial] = &source{spatial: spatial, recv: recv}
	if c.current.Spatial == -1 {
		c.current.Spatial = spatial
	}
}

// SetPreferredLayers records the controller's preference; simple/pipe consumers
// ignore it (they always forward everything).
func (c *Consumer) SetPreferredLayers(l Layers) {
	c.mu.Lock()
	c.preferred = l
	c.mu.Unlock()
	if c.Type == TypeSimulcast || c.Type == TypeSVC {
		c.mu.Lock()
		c.keyFrameWanted = true
		c.mu.Unlock()
	}
}

// SetPriority sets the layer-consideration priority (spec.md §3: "higher means
// earlier layer consideration" — interpreted by the Router when several Consumers
// compete for bandwidth, not enforced within the Consumer itself).
func (c *Consumer) SetPriority(p int) {
	c.mu.Lock()
	c.priority = p
	c.mu.Unlock()
}

// ForwardRtp is called by the Router for every packet the source Producer receives
// on spatial layer `spatial`. It decides whether this packet belongs to the
// currently-selected layer, and if so rewrites and emits it.
func (c *Consumer) ForwardRtp(spatial int, pkt *rtp.Packet) {
	c.mu.Lock()
	if c.paused || c.producerPaused {
		c.mu.Unlock()
		return
	}

	switch c.Type {
	case TypePipe:
		// Every encoding is forwarded independently; spatial doubles as the send
		// stream index.
		stream, ok := c.send[spatial]
		c.mu.Unlock()
		if !ok {
			return
		}
		c.emit(stream, pkt)
		return

	case TypeSimple:
		stream, ok := c.send[0]
		c.mu.Unlock()
		if !ok {
			return
		}
		c.emit(stream, pkt)
		return
	}

	// simulcast / SVC: only the currently selected spatial layer is forwarded,
	// switching on the next key frame of a newly targeted layer.
	if spatial != c.current.Spatial {
		if c.wantsSwitchTo(spatial, pkt) {
			c.current.Spatial = spatial
		} else {
			c.mu.Unlock()
			return
		}
	}

	if c.Type == TypeSVC && len(pkt.Payload) > 0 {
		var vp8 buffer.VP8
		if err := vp8.Unmarshal(pkt.Payload); err == nil {
			c.vp8[spatial] = &vp8
			if c.preferred.Temporal >= 0 && int(vp8.TID) > c.preferred.Temporal {
				c.mu.Unlock()
				return
			}
		}
	}

	stream, ok := c.send[0]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.emit(stream, pkt)
}

// wantsSwitchTo reports whether pkt (arriving on a not-yet-selected spatial layer)
// is a valid switch point: the target layer's next key frame, per spec.md §4.8
// ("switches on the next key-frame of the target layer").
func (c *Consumer) wantsSwitchTo(spatial int, pkt *rtp.Packet) bool {
	if c.preferred.Spatial >= 0 && spatial != c.preferred.Spatial {
		return false
	}
	if len(pkt.Payload) == 0 {
		return false
	}
	var vp8 buffer.VP8
	if err := vp8.Unmarshal(pkt.Payload); err != nil {
		// Unknown codec: trust the Producer's own keyframe detection upstream.
		return true
	}
	return vp8.IsKeyFrame
}

// emit rewrites pkt through stream and hands it to the listener for encryption/send.
func (c *Consumer) emit(stream *rtpstream.RtpStreamSend, pkt *rtp.Packet) {
	if !stream.RewritePacket(pkt) {
		return
	}
	c.listener.OnConsumerSendRtp(c, pkt)
}

// ReceiveRtcp consumes a receiver report from the remote about one of this
// Consumer's outgoing streams, extracting the loss fraction for scoring.
func (c *Consumer) ReceiveRtcp(rr *rtcp.ReceptionReport) uint8 {
	c.mu.Lock()
	stream, ok := c.send[0]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return stream.ConsumeReceiverReport(rr)
}

// BuildSenderReports produces one RTCP SenderReport per outgoing stream from the
// caller-supplied ntpNow/rtpNow pair, the same pair for every stream, each shifted
// by that stream's own timestamp offset.
func (c *Consumer) BuildSenderReports(ntpNow uint64, rtpNow uint32) []rtcp.SenderReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]rtcp.SenderReport, 0, len(c.send))
	for _, s := range c.send {
		out = append(out, s.BuildSenderReport(ntpNow, rtpNow))
	}
	return out
}

// OnProducerPaused/OnProducerResumed/OnProducerClosed mirror spec.md §4.9's Router
// fan-out notifications.
func (c *Consumer) OnProducerPaused() {
	c.mu.Lock()
	c.producerPaused = true
	c.mu.Unlock()
}

func (c *Consumer) OnProducerResumed() {
	c.mu.Lock()
	c.producerPaused = false
	c.mu.Unlock()
}

// OnProducerClosed marks the source Producer gone; forwarding stops permanently
// (producerPaused short-circuits ForwardRtp the same way a pause would, since a
// closed Producer will never resume). The Router still owns tearing this
// Consumer down via Close once it has finished the cascade.
func (c *Consumer) OnProducerClosed() {
	c.mu.Lock()
	c.producerPaused = true
	c.producerClosed = true
	c.mu.Unlock()
}

// ProducerClosed reports whether this Consumer's source Producer has closed.
func (c *Consumer) ProducerClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerClosed
}

// Pause/Resume control whether this specific Consumer forwards media, independent
// of the Producer's own paused state.
func (c *Consumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// RequestKeyFrame asks the Producer's currently-selected layer for a fresh key
// frame, e.g. after a layer switch or on initial subscribe.
func (c *Consumer) RequestKeyFrame() {
	c.mu.Lock()
	src, ok := c.sources[c.current.Spatial]
	c.keyFrameWanted = false
	c.mu.Unlock()
	if !ok {
		return
	}
	src.recv.RequestKeyFrame(false)
}

// Retransmit builds and emits an RTX packet for each sequence number in seqs,
// drawn from the outgoing stream's own packet cache, for the stream whose
// current media ssrc is mediaSsrc (spec.md §3's Consumer "RTX ssrc set").
// Sequence numbers that have already aged out of the cache are skipped.
func (c *Consumer) Retransmit(mediaSsrc uint32, seqs []uint16) {
	c.mu.Lock()
	stream, ok := c.sendBySsrc[mediaSsrc]
	c.mu.Unlock()
	if !ok {
		return
	}
	for _, seq := range seqs {
		pkt, ok := stream.BuildRtxPacket(seq)
		if !ok {
			continue
		}
		c.listener.OnConsumerSendRtp(c, pkt)
	}
}

// Priority returns the controller-set layer-consideration priority.
func (c *Consumer) Priority() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priority
}

// CurrentLayers returns the spatial/temporal layer currently being forwarded.
func (c *Consumer) CurrentLayers() Layers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close releases this Consumer's send-stream state. Idempotent (no internal state
// prevents double-close since RtpStreamSend holds no pooled resources).
func (c *Consumer) Close() error {
	return nil
}
