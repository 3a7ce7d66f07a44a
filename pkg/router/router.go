// Package router implements the Router fan-out of spec.md §4.9: the hub that
// owns every Transport on a worker and binds Producers to the Consumers that
// subscribe to them. The Router does not buffer media itself; every arriving
// packet is pushed synchronously to each bound Consumer's send path in the same
// call stack, matching spec.md's "invokes the consumer's send path synchronously
// for each arriving packet". The same binding/fan-out shape is reused for
// DataProducers/DataConsumers (pkg/sctp) instead of RTP.
package router

import (
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/datachannel"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ionworker/worker/pkg/buffer"
	"github.com/ionworker/worker/pkg/consumer"
	"github.com/ionworker/worker/pkg/observer"
	"github.com/ionworker/worker/pkg/producer"
	"github.com/ionworker/worker/pkg/rtpstream"
	"github.com/ionworker/worker/pkg/sctp"
	"github.com/ionworker/worker/pkg/stats"
	"github.com/ionworker/worker/pkg/transport"
)

// ErrUnknownTransport/ErrUnknownProducer are returned when the controller names
// an id the Router has no record of.
var (
	ErrUnknownTransport         = errors.New("router: unknown transport")
	ErrUnknownProducer          = errors.New("router: unknown producer")
	ErrUnknownConsumer          = errors.New("router: unknown consumer")
	ErrUnknownDataProducer      = errors.New("router: unknown data producer")
	ErrUnknownDataConsumer      = errors.New("router: unknown data consumer")
	ErrDataChannelsNotSupported = errors.New("router: transport does not support data channels")
	ErrUnknownAudioLevelObserver    = errors.New("router: unknown audio level observer")
	ErrUnknownActiveSpeakerObserver = errors.New("router: unknown active speaker observer")
)

// dataChannelOpener is the narrow capability a Transport needs to back
// DataProducers/DataConsumers: a DataListener hook for the Router to bind to,
// and the ability to dial an outbound stream (WebRtcTransport implements both;
// PlainTransport/DirectTransport currently don't, so they return
// ErrDataChannelsNotSupported from CreateDataConsumer).
type dataChannelOpener interface {
	SetDataListener(l transport.DataListener)
	OpenDataChannel(streamID uint16, label, protocol string, ordered bool, maxPacketLifeTime, maxRetransmits *uint16) (*datachannel.DataChannel, error)
}

// pendingDataProducerKey identifies an expected inbound DataChannel stream by
// the transport it will open on and its SCTP stream id, the way mediasoup's
// controller names a streamId in transport.produceData ahead of the browser
// actually opening that DataChannel.
type pendingDataProducerKey struct {
	transportID string
	streamID    uint16
}

type transportEntry struct {
	t      transport.Transport
	sender transport.RtpSender
}

// Router owns every Transport, Producer, and Consumer created within it, and is
// the sole dispatcher of media between them (spec.md §3 "Ownership summary":
// "Router exclusively owns Transports").
type Router struct {
	mu sync.Mutex

	ID  string
	log logr.Logger

	transports map[string]*transportEntry

	producers map[string]*producer.Producer
	consumers map[string]*consumer.Consumer

	producerTransport map[string]string // producer id -> owning transport id
	consumerTransport map[string]string // consumer id -> owning transport id

	// producerConsumers is the producer->consumer multimap spec.md §4.9 names.
	producerConsumers map[string]map[string]struct{}

	transportProducers map[string]map[string]struct{}
	transportConsumers map[string]map[string]struct{}

	dataProducers map[string]*sctp.DataProducer
	dataConsumers map[string]*sctp.DataConsumer

	dataProducerTransport map[string]string
	dataConsumerTransport map[string]string

	// dataProducerConsumers is the DataProducer->DataConsumer multimap,
	// mirroring producerConsumers for message fan-out instead of RTP fan-out.
	dataProducerConsumers map[string]map[string]struct{}

	transportDataProducers map[string]map[string]struct{}
	transportDataConsumers map[string]map[string]struct{}

	pendingDataProducers map[pendingDataProducerKey]string // (transport id, streamID) -> data producer id

	// ssrcProducer/ssrcConsumer let DeliverRtp/DeliverRtcp route an inbound
	// packet straight to the owning Producer/Consumer without scanning every
	// object bound to a transport.
	ssrcProducer map[uint32]string
	ssrcConsumer map[uint32]string

	traceListener TraceListener

	// audioLevelObservers/activeSpeakerObservers hold the RtpObserver instances
	// this Router owns (spec.md §3: "Router owns RtpObservers alongside
	// Producers/Consumers"). The producerX/Xproducer multimaps mirror
	// producerConsumers's shape so AddProducer/RemoveProducer and close-cascade
	// bookkeeping stay O(1) in either direction.
	audioLevelObservers      map[string]*observer.AudioLevelObserver
	activeSpeakerObservers   map[string]*observer.ActiveSpeakerObserver
	producerAudioObservers   map[string]map[string]struct{} // producer id -> bound audio observer ids
	audioObserverProducers   map[string]map[string]struct{} // audio observer id -> bound producer ids
	producerSpeakerObservers map[string]map[string]struct{} // producer id -> bound active-speaker observer ids
	speakerObserverProducers map[string]map[string]struct{} // active-speaker observer id -> bound producer ids

	observerListener ObserverListener
}

// TraceListener receives Producer-level trace events for the controller to
// observe, the Router-to-Worker side of spec.md §3's enableTraceEvent hook.
type TraceListener interface {
	OnProducerTrace(producerID string, event producer.TraceEventType, ssrc uint32)
}

// ObserverListener receives RtpObserver notifications (volumes/silence/dominant
// speaker) for the controller to observe, the Router-to-Worker side of
// spec.md §4.11.
type ObserverListener interface {
	OnAudioLevelVolumes(observerID string, volumes []observer.VolumeEntry)
	OnAudioLevelSilence(observerID string)
	OnActiveSpeakerDominantSpeaker(observerID, producerID string)
}

// New creates an empty Router.
func New(id string, log logr.Logger) *Router {
	return &Router{
		ID:                     id,
		log:                    log,
		transports:             make(map[string]*transportEntry),
		producers:              make(map[string]*producer.Producer),
		consumers:              make(map[string]*consumer.Consumer),
		producerTransport:      make(map[string]string),
		consumerTransport:      make(map[string]string),
		producerConsumers:      make(map[string]map[string]struct{}),
		transportProducers:     make(map[string]map[string]struct{}),
		transportConsumers:     make(map[string]map[string]struct{}),
		dataProducers:          make(map[string]*sctp.DataProducer),
		dataConsumers:          make(map[string]*sctp.DataConsumer),
		dataProducerTransport:  make(map[string]string),
		dataConsumerTransport:  make(map[string]string),
		dataProducerConsumers:  make(map[string]map[string]struct{}),
		transportDataProducers: make(map[string]map[string]struct{}),
		transportDataConsumers: make(map[string]map[string]struct{}),
		pendingDataProducers:   make(map[pendingDataProducerKey]string),
		ssrcProducer:           make(map[uint32]string),
		ssrcConsumer:           make(map[uint32]string),
		audioLevelObservers:      make(map[string]*observer.AudioLevelObserver),
		activeSpeakerObservers:   make(map[string]*observer.ActiveSpeakerObserver),
		producerAudioObservers:   make(map[string]map[string]struct{}),
		audioObserverProducers:   make(map[string]map[string]struct{}),
		producerSpeakerObservers: make(map[string]map[string]struct{}),
		speakerObserverProducers: make(map[string]map[string]struct{}),
	}
}

// SetTraceListener wires the controller-facing sink for Producer trace events;
// nil (the default) disables forwarding.
func (r *Router) SetTraceListener(l TraceListener) {
	r.mu.Lock()
	r.traceListener = l
	r.mu.Unlock()
}

// SetObserverListener wires the controller-facing sink for RtpObserver
// notifications; nil (the default) disables forwarding.
func (r *Router) SetObserverListener(l ObserverListener) {
	r.mu.Lock()
	r.observerListener = l
	r.mu.Unlock()
}

// Close closes every Transport the Router owns via the same cascade
// RemoveTransport uses, for a worker-wide shutdown that needs every Producer,
// Consumer, and DataChannel torn down along with their transports.
func (r *Router) Close() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := r.RemoveTransport(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AddTransport registers t, with sender as its outgoing RTP/RTCP capability
// (nil for a Transport kind the Router never sends through, though in practice
// all four variants implement transport.RtpSender).
func (r *Router) AddTransport(t transport.Transport, sender transport.RtpSender) {
	r.mu.Lock()
	r.transports[t.ID()] = &transportEntry{t: t, sender: sender}
	r.mu.Unlock()

	if opener, ok := t.(dataChannelOpener); ok {
		opener.SetDataListener(r)
	}
	stats.TransportOpened()
}

// RemoveTransport closes every Producer/Consumer the named transport owned and
// forgets it. Matches spec.md §5's cascade-on-close resource model.
func (r *Router) RemoveTransport(id string) error {
	r.mu.Lock()
	entry, ok := r.transports[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTransport
	}
	producerIDs := r.transportProducers[id]
	consumerIDs := r.transportConsumers[id]
	dataProducerIDs := r.transportDataProducers[id]
	dataConsumerIDs := r.transportDataConsumers[id]
	r.mu.Unlock()

	for pid := range producerIDs {
		_ = r.CloseProducer(pid)
	}
	for cid := range consumerIDs {
		_ = r.CloseConsumer(cid)
	}
	for did := range dataProducerIDs {
		_ = r.CloseDataProducer(did)
	}
	for did := range dataConsumerIDs {
		_ = r.CloseDataConsumer(did)
	}

	r.mu.Lock()
	delete(r.transports, id)
	delete(r.transportProducers, id)
	delete(r.transportConsumers, id)
	delete(r.transportDataProducers, id)
	delete(r.transportDataConsumers, id)
	r.mu.Unlock()

	stats.TransportClosed()
	return entry.t.Close()
}

// CreateProducer builds a Producer owned by transportID, with the Router as its
// Listener so new streams, scores, media, and key-frame/NACK requests all flow
// through the Router's fan-out logic.
func (r *Router) CreateProducer(transportID, id string, kind producer.Kind, ext rtpstream.ExtensionMap, encodings []producer.Encoding, clockRate uint32, factory *buffer.Factory) (*producer.Producer, error) {
	r.mu.Lock()
	if _, ok := r.transports[transportID]; !ok {
		r.mu.Unlock()
		return nil, ErrUnknownTransport
	}
	r.mu.Unlock()

	p := producer.New(id, kind, ext, encodings, clockRate, factory, r.log, r)

	r.mu.Lock()
	r.producers[id] = p
	r.producerTransport[id] = transportID
	r.producerConsumers[id] = make(map[string]struct{})
	if r.transportProducers[transportID] == nil {
		r.transportProducers[transportID] = make(map[string]struct{})
	}
	r.transportProducers[transportID][id] = struct{}{}
	for _, enc := range encodings {
		r.ssrcProducer[enc.Ssrc] = id
		if enc.RtxSsrc != 0 {
			r.ssrcProducer[enc.RtxSsrc] = id
		}
	}
	r.mu.Unlock()

	stats.ProducerOpened()
	return p, nil
}

// CreateConsumer builds a Consumer owned by transportID forwarding producerID's
// media, replaying the Producer's current stream state onto the new Consumer
// per spec.md §4.9 ("binds it to its producer and replays the producer's
// current stream state").
func (r *Router) CreateConsumer(transportID, id, producerID string, typ consumer.Type, audio bool, outSsrcs []rtpstream.SendParams) (*consumer.Consumer, error) {
	r.mu.Lock()
	if _, ok := r.transports[transportID]; !ok {
		r.mu.Unlock()
		return nil, ErrUnknownTransport
	}
	p, ok := r.producers[producerID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownProducer
	}
	r.mu.Unlock()

	c := consumer.New(id, producerID, typ, audio, outSsrcs, r.log, r)

	for _, stream := range p.Streams() {
		spatial, _ := p.SpatialLayer(stream.Params.Ssrc)
		c.AddSource(spatial, stream)
	}
	if p.Paused() {
		c.OnProducerPaused()
	}

	r.mu.Lock()
	r.consumers[id] = c
	r.consumerTransport[id] = transportID
	r.producerConsumers[producerID][id] = struct{}{}
	if r.transportConsumers[transportID] == nil {
		r.transportConsumers[transportID] = make(map[string]struct{})
	}
	r.transportConsumers[transportID][id] = struct{}{}
	for _, sp := range outSsrcs {
		r.ssrcConsumer[sp.Ssrc] = id
		if sp.RtxSsrc != 0 {
			r.ssrcConsumer[sp.RtxSsrc] = id
		}
	}
	r.mu.Unlock()

	stats.ConsumerOpened()
	return c, nil
}

// TransportProducers/TransportConsumers return the ids of every Producer/Consumer
// owned by transportID, for callers that need to unregister their own
// per-object bookkeeping (e.g. control-channel handler targets) alongside a
// transport.close the Router itself only tears down internally.
func (r *Router) TransportProducers(transportID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.transportProducers[transportID]))
	for id := range r.transportProducers[transportID] {
		ids = append(ids, id)
	}
	return ids
}

func (r *Router) TransportConsumers(transportID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.transportConsumers[transportID]))
	for id := range r.transportConsumers[transportID] {
		ids = append(ids, id)
	}
	return ids
}

// ConsumersOf returns the ids of every Consumer currently bound to producerID, for
// callers (the control-channel method handlers) that need to fan a notification
// out to each one after an operation the Router itself only applies internally.
func (r *Router) ConsumersOf(producerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.producerConsumers[producerID]))
	for id := range r.producerConsumers[producerID] {
		ids = append(ids, id)
	}
	return ids
}

// PauseProducer pauses p and notifies every bound Consumer (spec.md §4.9).
func (r *Router) PauseProducer(id string) error {
	r.mu.Lock()
	p, ok := r.producers[id]
	consumerIDs := r.producerConsumers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownProducer
	}
	p.Pause()
	for cid := range consumerIDs {
		r.mu.Lock()
		c := r.consumers[cid]
		r.mu.Unlock()
		if c != nil {
			c.OnProducerPaused()
		}
	}
	r.notifyObserversProducerPaused(id)
	return nil
}

// ResumeProducer resumes p and notifies every bound Consumer.
func (r *Router) ResumeProducer(id string) error {
	r.mu.Lock()
	p, ok := r.producers[id]
	consumerIDs := r.producerConsumers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownProducer
	}
	p.Resume()
	for cid := range consumerIDs {
		r.mu.Lock()
		c := r.consumers[cid]
		r.mu.Unlock()
		if c != nil {
			c.OnProducerResumed()
		}
	}
	r.notifyObserversProducerResumed(id)
	return nil
}

// CloseProducer tears p down, notifies every bound Consumer it has lost its
// source, and removes p from every id table.
func (r *Router) CloseProducer(id string) error {
	r.mu.Lock()
	p, ok := r.producers[id]
	consumerIDs := r.producerConsumers[id]
	transportID := r.producerTransport[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownProducer
	}

	for cid := range consumerIDs {
		r.mu.Lock()
		c := r.consumers[cid]
		r.mu.Unlock()
		if c != nil {
			c.OnProducerClosed()
		}
	}
	r.removeProducerFromObservers(id)

	err := p.Close()

	r.mu.Lock()
	delete(r.producers, id)
	delete(r.producerConsumers, id)
	delete(r.producerTransport, id)
	if set := r.transportProducers[transportID]; set != nil {
		delete(set, id)
	}
	for ssrc, pid := range r.ssrcProducer {
		if pid == id {
			delete(r.ssrcProducer, ssrc)
		}
	}
	r.mu.Unlock()

	stats.ProducerClosed()
	return err
}

// SetProducerTraceEvent replaces the named Producer's set of enabled trace
// event types.
func (r *Router) SetProducerTraceEvent(id string, types []producer.TraceEventType) error {
	r.mu.Lock()
	p, ok := r.producers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownProducer
	}
	p.EnableTraceEvent(types)
	return nil
}

// PauseConsumer/ResumeConsumer/RequestConsumerKeyFrame apply directly to one
// named Consumer, for the control methods scoped at the consumer's own id
// rather than its producer's (spec.md §4.8's per-consumer pause independent of
// the producer-driven OnProducerPaused path PauseProducer above exercises).
func (r *Router) PauseConsumer(id string) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	c.Pause()
	return nil
}

func (r *Router) ResumeConsumer(id string) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	c.Resume()
	return nil
}

func (r *Router) RequestConsumerKeyFrame(id string) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	c.RequestKeyFrame()
	return nil
}

// SetConsumerPreferredLayers and SetConsumerPriority apply the controller's
// simulcast/SVC layer selection directly to one named Consumer.
func (r *Router) SetConsumerPreferredLayers(id string, layers consumer.Layers) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	c.SetPreferredLayers(layers)
	return nil
}

func (r *Router) SetConsumerPriority(id string, priority int) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	c.SetPriority(priority)
	return nil
}

// CloseConsumer tears c down and removes it from every id table.
func (r *Router) CloseConsumer(id string) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	transportID := r.consumerTransport[id]
	producerID := ""
	if ok {
		producerID = c.ProducerID
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}

	err := c.Close()

	r.mu.Lock()
	delete(r.consumers, id)
	delete(r.consumerTransport, id)
	if set := r.producerConsumers[producerID]; set != nil {
		delete(set, id)
	}
	if set := r.transportConsumers[transportID]; set != nil {
		delete(set, id)
	}
	for ssrc, cid := range r.ssrcConsumer {
		if cid == id {
			delete(r.ssrcConsumer, ssrc)
		}
	}
	r.mu.Unlock()

	stats.ConsumerClosed()
	return err
}

// OnProducerNewRtpStream implements producer.Listener: replays the new
// encoding onto every Consumer already bound to p.
func (r *Router) OnProducerNewRtpStream(p *producer.Producer, stream *rtpstream.RtpStreamRecv) {
	spatial, _ := p.SpatialLayer(stream.Params.Ssrc)
	r.mu.Lock()
	consumerIDs := make([]string, 0, len(r.producerConsumers[p.ID]))
	for cid := range r.producerConsumers[p.ID] {
		consumerIDs = append(consumerIDs, cid)
	}
	r.mu.Unlock()
	for _, cid := range consumerIDs {
		r.mu.Lock()
		c := r.consumers[cid]
		r.mu.Unlock()
		if c != nil {
			c.AddSource(spatial, stream)
		}
	}
}

// OnProducerRtpStreamScore implements producer.Listener. Score changes are
// controller-facing telemetry; the Router has no routing decision to make on
// them (layer switching reacts to forwarded packets, not score, per spec.md
// §4.8), so this is a pass-through hook for future trace-event wiring.
func (r *Router) OnProducerRtpStreamScore(p *producer.Producer, stream *rtpstream.RtpStreamRecv, score, previousScore uint8) {
	r.log.V(1).Info("rtp stream score changed", "producer", p.ID, "ssrc", stream.Params.Ssrc, "score", score, "previous", previousScore)
}

// OnProducerReceivedRtpPacket implements producer.Listener: the core fan-out
// point. Every bound Consumer gets its own decoded rtp.Packet, since
// Consumer.emit rewrites SSRC/sequence/timestamp/extensions in place and those
// mutations must not be visible across Consumers sharing one Producer.
func (r *Router) OnProducerReceivedRtpPacket(p *producer.Producer, stream *rtpstream.RtpStreamRecv, header *rtp.Header, payload []byte) {
	stats.AddRtpBytesReceived(len(payload))
	spatial, _ := p.SpatialLayer(stream.Params.Ssrc)

	r.mu.Lock()
	consumerIDs := make([]string, 0, len(r.producerConsumers[p.ID]))
	for cid := range r.producerConsumers[p.ID] {
		consumerIDs = append(consumerIDs, cid)
	}
	r.mu.Unlock()

	for _, cid := range consumerIDs {
		r.mu.Lock()
		c := r.consumers[cid]
		r.mu.Unlock()
		if c == nil {
			continue
		}
		c.ForwardRtp(spatial, clonePacket(header, payload))
	}

	r.feedObservers(p.ID, header, p.Ext)
}

// feedObservers pushes one producer's audio-level RTP header extension into
// every AudioLevelObserver/ActiveSpeakerObserver currently bound to it
// (spec.md §4.11's per-tick volume/dominant-speaker computation).
func (r *Router) feedObservers(producerID string, header *rtp.Header, ext rtpstream.ExtensionMap) {
	r.mu.Lock()
	audioIDs := r.producerAudioObservers[producerID]
	speakerIDs := r.producerSpeakerObservers[producerID]
	if len(audioIDs) == 0 && len(speakerIDs) == 0 {
		r.mu.Unlock()
		return
	}
	audioObs := make([]*observer.AudioLevelObserver, 0, len(audioIDs))
	for oid := range audioIDs {
		if o := r.audioLevelObservers[oid]; o != nil {
			audioObs = append(audioObs, o)
		}
	}
	speakerObs := make([]*observer.ActiveSpeakerObserver, 0, len(speakerIDs))
	for oid := range speakerIDs {
		if o := r.activeSpeakerObservers[oid]; o != nil {
			speakerObs = append(speakerObs, o)
		}
	}
	r.mu.Unlock()

	for _, o := range audioObs {
		o.ReceiveRtpPacket(producerID, header, ext)
	}
	if len(speakerObs) > 0 {
		now := time.Now()
		for _, o := range speakerObs {
			o.ReceiveRtpPacket(producerID, header, ext, now)
		}
	}
}

// clonePacket builds an independent rtp.Packet (independent Header, including
// its Extensions slice) from an already-unmarshaled header/payload pair, so
// each Consumer's in-place rewrite can't leak into another Consumer's copy.
func clonePacket(header *rtp.Header, payload []byte) *rtp.Packet {
	raw := make([]byte, header.MarshalSize())
	n, err := header.MarshalTo(raw)
	if err != nil {
		return &rtp.Packet{Header: *header, Payload: payload}
	}
	var hdr rtp.Header
	if _, err := hdr.Unmarshal(raw[:n]); err != nil {
		return &rtp.Packet{Header: *header, Payload: payload}
	}
	return &rtp.Packet{Header: hdr, Payload: payload}
}

// OnProducerRequestKeyFrame implements producer.Listener: a bound Consumer (or
// the Producer's own jitter-buffer loss detector) wants a key frame from
// upstream, so the Router sends a PLI/FIR back through the Producer's owning
// Transport.
func (r *Router) OnProducerRequestKeyFrame(p *producer.Producer, ssrc uint32, fir bool) {
	r.sendKeyFrameRequest(p.ID, ssrc, fir)
}

// OnProducerSendNack implements producer.Listener: forwards a compressed NACK
// back through the Producer's owning Transport.
func (r *Router) OnProducerSendNack(p *producer.Producer, ssrc uint32, pairs []rtcp.NackPair) {
	r.mu.Lock()
	transportID := r.producerTransport[p.ID]
	entry := r.transports[transportID]
	r.mu.Unlock()
	if entry == nil || entry.sender == nil {
		return
	}
	stats.IncNacksSent()
	_ = entry.sender.SendRtcp([]rtcp.Packet{&rtcp.TransportLayerNack{MediaSSRC: ssrc, Nacks: pairs}})
}

// OnProducerSendTransportCCFeedback implements producer.Listener: forwards a
// generated transport-wide-cc feedback packet back through the Producer's
// owning Transport, the same path OnProducerSendNack uses for NACKs.
func (r *Router) OnProducerSendTransportCCFeedback(p *producer.Producer, pkt rtcp.RawPacket) {
	r.mu.Lock()
	transportID := r.producerTransport[p.ID]
	entry := r.transports[transportID]
	r.mu.Unlock()
	if entry == nil || entry.sender == nil {
		return
	}
	_ = entry.sender.SendRtcp([]rtcp.Packet{pkt})
}

// OnProducerTrace implements producer.Listener: relays one trace event to the
// Router's controller-facing sink, if a TraceListener has been wired.
func (r *Router) OnProducerTrace(p *producer.Producer, event producer.TraceEventType, ssrc uint32) {
	r.mu.Lock()
	l := r.traceListener
	r.mu.Unlock()
	if l != nil {
		l.OnProducerTrace(p.ID, event, ssrc)
	}
}

// OnConsumerSendRtp implements consumer.Listener: hands a Consumer's rewritten
// packet to its owning Transport's send path.
func (r *Router) OnConsumerSendRtp(c *consumer.Consumer, pkt *rtp.Packet) {
	r.mu.Lock()
	transportID := r.consumerTransport[c.ID]
	entry := r.transports[transportID]
	r.mu.Unlock()
	if entry == nil || entry.sender == nil {
		return
	}
	stats.AddRtpBytesSent(len(pkt.Payload))
	_ = entry.sender.SendRtp(&pkt.Header, pkt.Payload)
}

// OnConsumerRequestKeyFrame implements consumer.Listener: a Consumer needs a
// key frame (new subscribe, layer switch); the request travels back to the
// Producer's owning Transport, not the Consumer's.
func (r *Router) OnConsumerRequestKeyFrame(c *consumer.Consumer, ssrc uint32) {
	r.sendKeyFrameRequest(c.ProducerID, ssrc, false)
}

func (r *Router) sendKeyFrameRequest(producerID string, ssrc uint32, fir bool) {
	r.mu.Lock()
	transportID := r.producerTransport[producerID]
	entry := r.transports[transportID]
	r.mu.Unlock()
	if entry == nil || entry.sender == nil {
		return
	}
	var pkt rtcp.Packet
	if fir {
		pkt = &rtcp.FullIntraRequest{FIR: []rtcp.FIREntry{{SSRC: ssrc}}}
	} else {
		pkt = &rtcp.PictureLossIndication{MediaSSRC: ssrc}
	}
	stats.IncKeyFrameRequestsSent()
	_ = entry.sender.SendRtcp([]rtcp.Packet{pkt})
}

// DeliverRtp routes one decrypted RTP packet received on transportID to whichever
// Producer owns its SSRC (media or RTX), the bridge between a Transport variant's
// OnTransportReceiveRtp callback and the Producer it feeds, per spec.md §3's
// "Router exclusively owns Transports" ownership summary.
func (r *Router) DeliverRtp(transportID string, pkt []byte) error {
	var hdr rtp.Header
	if _, err := hdr.Unmarshal(pkt); err != nil {
		return err
	}

	r.mu.Lock()
	producerID, ok := r.ssrcProducer[hdr.SSRC]
	var p *producer.Producer
	if ok {
		p = r.producers[producerID]
	}
	r.mu.Unlock()
	if p == nil {
		return ErrUnknownProducer
	}
	return p.ReceiveRtp(pkt)
}

// DeliverRtcp routes one compound RTCP packet received on transportID: sender
// reports reach the Producer they're paired to, receiver reports and key-frame
// requests (PLI/FIR) reach the Consumer whose SSRC they name, and a receiver-side
// NACK for a Consumer's outgoing stream triggers RTX retransmission from that
// stream's packet cache (spec.md §3's Consumer "RTX ssrc set ... for RTX offset").
// Packet types this worker has no inbound handling for are silently dropped,
// matching spec.md §7's treatment of unrecognized network input.
func (r *Router) DeliverRtcp(transportID string, packets []rtcp.Packet) {
	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			r.mu.Lock()
			producerID, ok := r.ssrcProducer[p.SSRC]
			var producerObj *producer.Producer
			if ok {
				producerObj = r.producers[producerID]
			}
			r.mu.Unlock()
			if producerObj != nil {
				producerObj.ReceiveRtcp(p)
			}
		case *rtcp.ReceiverReport:
			for i := range p.Reports {
				r.deliverReceptionReport(&p.Reports[i])
			}
		case *rtcp.PictureLossIndication:
			r.requestConsumerKeyFrame(p.MediaSSRC)
		case *rtcp.FullIntraRequest:
			for _, e := range p.FIR {
				r.requestConsumerKeyFrame(e.SSRC)
			}
		case *rtcp.TransportLayerNack:
			r.retransmitToConsumer(p.MediaSSRC, p.Nacks)
		}
	}
}

func (r *Router) retransmitToConsumer(mediaSsrc uint32, nacks []rtcp.NackPair) {
	r.mu.Lock()
	consumerID, ok := r.ssrcConsumer[mediaSsrc]
	var c *consumer.Consumer
	if ok {
		c = r.consumers[consumerID]
	}
	r.mu.Unlock()
	if c == nil {
		return
	}
	seqs := make([]uint16, 0, len(nacks)*17)
	for i := range nacks {
		seqs = append(seqs, nacks[i].PacketList()...)
	}
	c.Retransmit(mediaSsrc, seqs)
}

func (r *Router) deliverReceptionReport(rep *rtcp.ReceptionReport) {
	r.mu.Lock()
	consumerID, ok := r.ssrcConsumer[rep.SSRC]
	var c *consumer.Consumer
	if ok {
		c = r.consumers[consumerID]
	}
	r.mu.Unlock()
	if c != nil {
		c.ReceiveRtcp(rep)
	}
}

func (r *Router) requestConsumerKeyFrame(ssrc uint32) {
	r.mu.Lock()
	consumerID, ok := r.ssrcConsumer[ssrc]
	var c *consumer.Consumer
	if ok {
		c = r.consumers[consumerID]
	}
	r.mu.Unlock()
	if c != nil {
		c.RequestKeyFrame()
	}
}

// notifyObserversProducerPaused/notifyObserversProducerResumed mirror the
// Consumer-side OnProducerPaused/OnProducerResumed fan-out for every
// AudioLevelObserver/ActiveSpeakerObserver bound to producerID.
func (r *Router) notifyObserversProducerPaused(producerID string) {
	r.mu.Lock()
	audioIDs := r.producerAudioObservers[producerID]
	speakerIDs := r.producerSpeakerObservers[producerID]
	audioObs := make([]*observer.AudioLevelObserver, 0, len(audioIDs))
	for oid := range audioIDs {
		if o := r.audioLevelObservers[oid]; o != nil {
			audioObs = append(audioObs, o)
		}
	}
	speakerObs := make([]*observer.ActiveSpeakerObserver, 0, len(speakerIDs))
	for oid := range speakerIDs {
		if o := r.activeSpeakerObservers[oid]; o != nil {
			speakerObs = append(speakerObs, o)
		}
	}
	r.mu.Unlock()

	for _, o := range audioObs {
		o.OnProducerPaused(producerID)
	}
	for _, o := range speakerObs {
		o.OnProducerPaused(producerID)
	}
}

func (r *Router) notifyObserversProducerResumed(producerID string) {
	r.mu.Lock()
	audioIDs := r.producerAudioObservers[producerID]
	speakerIDs := r.producerSpeakerObservers[producerID]
	audioObs := make([]*observer.AudioLevelObserver, 0, len(audioIDs))
	for oid := range audioIDs {
		if o := r.audioLevelObservers[oid]; o != nil {
			audioObs = append(audioObs, o)
		}
	}
	speakerObs := make([]*observer.ActiveSpeakerObserver, 0, len(speakerIDs))
	for oid := range speakerIDs {
		if o := r.activeSpeakerObservers[oid]; o != nil {
			speakerObs = append(speakerObs, o)
		}
	}
	r.mu.Unlock()

	for _, o := range audioObs {
		o.OnProducerResumed(producerID)
	}
	for _, o := range speakerObs {
		o.OnProducerResumed(producerID)
	}
}

// removeProducerFromObservers drops producerID from every observer it is
// currently bound to, called as part of CloseProducer's cascade.
func (r *Router) removeProducerFromObservers(producerID string) {
	r.mu.Lock()
	audioIDs := r.producerAudioObservers[producerID]
	speakerIDs := r.producerSpeakerObservers[producerID]
	audioObs := make([]*observer.AudioLevelObserver, 0, len(audioIDs))
	for oid := range audioIDs {
		if o := r.audioLevelObservers[oid]; o != nil {
			audioObs = append(audioObs, o)
			delete(r.audioObserverProducers[oid], producerID)
		}
	}
	speakerObs := make([]*observer.ActiveSpeakerObserver, 0, len(speakerIDs))
	for oid := range speakerIDs {
		if o := r.activeSpeakerObservers[oid]; o != nil {
			speakerObs = append(speakerObs, o)
			delete(r.speakerObserverProducers[oid], producerID)
		}
	}
	delete(r.producerAudioObservers, producerID)
	delete(r.producerSpeakerObservers, producerID)
	r.mu.Unlock()

	for _, o := range audioObs {
		o.RemoveProducer(producerID)
	}
	now := time.Now()
	for _, o := range speakerObs {
		o.RemoveProducer(producerID, now)
	}
}

// CreateAudioLevelObserver constructs and registers an AudioLevelObserver
// (spec.md §4.11), with the Router as its listener so volumes/silence
// notifications flow back through the Router's own ObserverListener.
func (r *Router) CreateAudioLevelObserver(id string, maxEntries uint16, threshold int8, interval time.Duration) (*observer.AudioLevelObserver, error) {
	o, err := observer.NewAudioLevelObserver(id, maxEntries, threshold, interval, r)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.audioLevelObservers[id] = o
	r.audioObserverProducers[id] = make(map[string]struct{})
	r.mu.Unlock()
	return o, nil
}

// CreateActiveSpeakerObserver constructs and registers an ActiveSpeakerObserver
// (spec.md §4.11).
func (r *Router) CreateActiveSpeakerObserver(id string, interval time.Duration) *observer.ActiveSpeakerObserver {
	o := observer.NewActiveSpeakerObserver(id, interval, r)
	r.mu.Lock()
	r.activeSpeakerObservers[id] = o
	r.speakerObserverProducers[id] = make(map[string]struct{})
	r.mu.Unlock()
	return o
}

// AddProducerToAudioLevelObserver binds producerID as a volume candidate for
// observerID's next Update.
func (r *Router) AddProducerToAudioLevelObserver(observerID, producerID string) error {
	r.mu.Lock()
	o, ok := r.audioLevelObservers[observerID]
	_, pok := r.producers[producerID]
	if ok && pok {
		if r.producerAudioObservers[producerID] == nil {
			r.producerAudioObservers[producerID] = make(map[string]struct{})
		}
		r.producerAudioObservers[producerID][observerID] = struct{}{}
		r.audioObserverProducers[observerID][producerID] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownAudioLevelObserver
	}
	if !pok {
		return ErrUnknownProducer
	}
	o.AddProducer(producerID)
	return nil
}

// RemoveProducerFromAudioLevelObserver unbinds producerID from observerID.
func (r *Router) RemoveProducerFromAudioLevelObserver(observerID, producerID string) error {
	r.mu.Lock()
	o, ok := r.audioLevelObservers[observerID]
	if ok {
		delete(r.producerAudioObservers[producerID], observerID)
		delete(r.audioObserverProducers[observerID], producerID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownAudioLevelObserver
	}
	o.RemoveProducer(producerID)
	return nil
}

// PauseAudioLevelObserver/ResumeAudioLevelObserver/CloseAudioLevelObserver
// apply directly to the named AudioLevelObserver.
func (r *Router) PauseAudioLevelObserver(id string) error {
	r.mu.Lock()
	o, ok := r.audioLevelObservers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownAudioLevelObserver
	}
	o.Pause()
	return nil
}

func (r *Router) ResumeAudioLevelObserver(id string) error {
	r.mu.Lock()
	o, ok := r.audioLevelObservers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownAudioLevelObserver
	}
	o.Resume()
	return nil
}

func (r *Router) CloseAudioLevelObserver(id string) error {
	r.mu.Lock()
	_, ok := r.audioLevelObservers[id]
	producerIDs := r.audioObserverProducers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownAudioLevelObserver
	}
	for pid := range producerIDs {
		r.mu.Lock()
		delete(r.producerAudioObservers[pid], id)
		r.mu.Unlock()
	}
	r.mu.Lock()
	delete(r.audioLevelObservers, id)
	delete(r.audioObserverProducers, id)
	r.mu.Unlock()
	return nil
}

// AddProducerToActiveSpeakerObserver binds producerID as a speaker candidate
// for observerID.
func (r *Router) AddProducerToActiveSpeakerObserver(observerID, producerID string) error {
	r.mu.Lock()
	o, ok := r.activeSpeakerObservers[observerID]
	_, pok := r.producers[producerID]
	if ok && pok {
		if r.producerSpeakerObservers[producerID] == nil {
			r.producerSpeakerObservers[producerID] = make(map[string]struct{})
		}
		r.producerSpeakerObservers[producerID][observerID] = struct{}{}
		r.speakerObserverProducers[observerID][producerID] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownActiveSpeakerObserver
	}
	if !pok {
		return ErrUnknownProducer
	}
	o.AddProducer(producerID, time.Now())
	return nil
}

// RemoveProducerFromActiveSpeakerObserver unbinds producerID from observerID.
func (r *Router) RemoveProducerFromActiveSpeakerObserver(observerID, producerID string) error {
	r.mu.Lock()
	o, ok := r.activeSpeakerObservers[observerID]
	if ok {
		delete(r.producerSpeakerObservers[producerID], observerID)
		delete(r.speakerObserverProducers[observerID], producerID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownActiveSpeakerObserver
	}
	o.RemoveProducer(producerID, time.Now())
	return nil
}

// PauseActiveSpeakerObserver/ResumeActiveSpeakerObserver/CloseActiveSpeakerObserver
// apply directly to the named ActiveSpeakerObserver.
func (r *Router) PauseActiveSpeakerObserver(id string) error {
	r.mu.Lock()
	o, ok := r.activeSpeakerObservers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownActiveSpeakerObserver
	}
	o.Pause()
	return nil
}

func (r *Router) ResumeActiveSpeakerObserver(id string) error {
	r.mu.Lock()
	o, ok := r.activeSpeakerObservers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownActiveSpeakerObserver
	}
	o.Resume()
	return nil
}

func (r *Router) CloseActiveSpeakerObserver(id string) error {
	r.mu.Lock()
	_, ok := r.activeSpeakerObservers[id]
	producerIDs := r.speakerObserverProducers[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownActiveSpeakerObserver
	}
	for pid := range producerIDs {
		r.mu.Lock()
		delete(r.producerSpeakerObservers[pid], id)
		r.mu.Unlock()
	}
	r.mu.Lock()
	delete(r.activeSpeakerObservers, id)
	delete(r.speakerObserverProducers, id)
	r.mu.Unlock()
	return nil
}

// OnAudioLevelVolumes/OnAudioLevelSilence implement observer.AudioLevelListener,
// relaying to the Router's own ObserverListener if one has been wired.
func (r *Router) OnAudioLevelVolumes(o *observer.AudioLevelObserver, volumes []observer.VolumeEntry) {
	r.mu.Lock()
	l := r.observerListener
	r.mu.Unlock()
	if l != nil {
		l.OnAudioLevelVolumes(o.ID(), volumes)
	}
}

func (r *Router) OnAudioLevelSilence(o *observer.AudioLevelObserver) {
	r.mu.Lock()
	l := r.observerListener
	r.mu.Unlock()
	if l != nil {
		l.OnAudioLevelSilence(o.ID())
	}
}

// OnActiveSpeakerDominantSpeaker implements observer.ActiveSpeakerListener.
func (r *Router) OnActiveSpeakerDominantSpeaker(o *observer.ActiveSpeakerObserver, producerID string) {
	r.mu.Lock()
	l := r.observerListener
	r.mu.Unlock()
	if l != nil {
		l.OnActiveSpeakerDominantSpeaker(o.ID(), producerID)
	}
}

// CreateDataProducer registers id as the DataProducer the Router should bind
// to transportID's next inbound DataChannel stream numbered streamID,
// mirroring mediasoup's transport.produceData: the controller names the
// stream id ahead of the peer actually opening it.
func (r *Router) CreateDataProducer(transportID, id string, streamID uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transports[transportID]; !ok {
		return ErrUnknownTransport
	}
	r.pendingDataProducers[pendingDataProducerKey{transportID, streamID}] = id
	return nil
}

// CreateDataConsumer dials a new outbound DataChannel stream over
// transportID mirroring dataProducerID's messages, per spec.md §3's
// Transport-owns-DataConsumers shape applied to data instead of RTP.
func (r *Router) CreateDataConsumer(transportID, id, dataProducerID string, streamID uint16, label, protocol string, ordered bool) (*sctp.DataConsumer, error) {
	r.mu.Lock()
	entry, ok := r.transports[transportID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownTransport
	}
	if _, ok := r.dataProducers[dataProducerID]; !ok {
		r.mu.Unlock()
		return nil, ErrUnknownDataProducer
	}
	r.mu.Unlock()

	opener, ok := entry.t.(dataChannelOpener)
	if !ok {
		return nil, ErrDataChannelsNotSupported
	}
	dc, err := opener.OpenDataChannel(streamID, label, protocol, ordered, nil, nil)
	if err != nil {
		return nil, err
	}
	consumer := sctp.NewDataConsumer(id, dataProducerID, streamID, label, protocol, ordered, dc)

	r.mu.Lock()
	r.dataConsumers[id] = consumer
	r.dataConsumerTransport[id] = transportID
	if r.dataProducerConsumers[dataProducerID] == nil {
		r.dataProducerConsumers[dataProducerID] = make(map[string]struct{})
	}
	r.dataProducerConsumers[dataProducerID][id] = struct{}{}
	if r.transportDataConsumers[transportID] == nil {
		r.transportDataConsumers[transportID] = make(map[string]struct{})
	}
	r.transportDataConsumers[transportID][id] = struct{}{}
	r.mu.Unlock()

	stats.DataConsumerOpened()
	return consumer, nil
}

// CloseDataProducer tears a DataProducer down, closes every DataConsumer
// mirroring it (there's nothing left for them to relay), and forgets it.
func (r *Router) CloseDataProducer(id string) error {
	r.mu.Lock()
	p, ok := r.dataProducers[id]
	consumerIDs := r.dataProducerConsumers[id]
	transportID := r.dataProducerTransport[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownDataProducer
	}

	for cid := range consumerIDs {
		_ = r.CloseDataConsumer(cid)
	}

	err := p.Close()

	r.mu.Lock()
	delete(r.dataProducers, id)
	delete(r.dataProducerConsumers, id)
	delete(r.dataProducerTransport, id)
	if set := r.transportDataProducers[transportID]; set != nil {
		delete(set, id)
	}
	r.mu.Unlock()

	stats.DataProducerClosed()
	return err
}

// CloseDataConsumer tears a DataConsumer down and forgets it.
func (r *Router) CloseDataConsumer(id string) error {
	r.mu.Lock()
	c, ok := r.dataConsumers[id]
	transportID := r.dataConsumerTransport[id]
	dataProducerID := ""
	if ok {
		dataProducerID = c.DataProducerID
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownDataConsumer
	}

	err := c.Close()

	r.mu.Lock()
	delete(r.dataConsumers, id)
	delete(r.dataConsumerTransport, id)
	if set := r.dataProducerConsumers[dataProducerID]; set != nil {
		delete(set, id)
	}
	if set := r.transportDataConsumers[transportID]; set != nil {
		delete(set, id)
	}
	r.mu.Unlock()

	stats.DataConsumerClosed()
	return err
}

// OnTransportSctpConnected implements transport.DataListener.
func (r *Router) OnTransportSctpConnected(t *transport.WebRtcTransport) {
	r.log.V(1).Info("sctp association connected", "transport", t.ID())
}

// OnTransportSctpDataChannelOpen implements transport.DataListener: binds the
// newly opened stream to whatever DataProducer id the controller registered
// for it via CreateDataProducer, or closes the channel if none was expected.
func (r *Router) OnTransportSctpDataChannelOpen(t *transport.WebRtcTransport, dc *datachannel.DataChannel, streamID uint16, label, protocol string, ordered bool, maxPacketLifeTime, maxRetransmits *uint16) {
	key := pendingDataProducerKey{t.ID(), streamID}

	r.mu.Lock()
	id, ok := r.pendingDataProducers[key]
	if ok {
		delete(r.pendingDataProducers, key)
	}
	r.mu.Unlock()

	if !ok {
		r.log.V(1).Info("unexpected data channel open, closing", "transport", t.ID(), "stream", streamID)
		_ = dc.Close()
		return
	}

	p := sctp.NewDataProducer(id, streamID, label, protocol, ordered, dc, r.log, r)

	r.mu.Lock()
	r.dataProducers[id] = p
	r.dataProducerTransport[id] = t.ID()
	r.dataProducerConsumers[id] = make(map[string]struct{})
	if r.transportDataProducers[t.ID()] == nil {
		r.transportDataProducers[t.ID()] = make(map[string]struct{})
	}
	r.transportDataProducers[t.ID()][id] = struct{}{}
	r.mu.Unlock()

	stats.DataProducerOpened()
}

// OnTransportSctpClosed implements transport.DataListener.
func (r *Router) OnTransportSctpClosed(t *transport.WebRtcTransport) {
	r.log.V(1).Info("sctp association closed", "transport", t.ID())
}

// OnDataProducerMessage implements sctp.DataProducerListener: the core
// message fan-out, mirroring OnProducerReceivedRtpPacket's role for RTP.
func (r *Router) OnDataProducerMessage(p *sctp.DataProducer, data []byte, isString bool) {
	r.mu.Lock()
	consumerIDs := make([]string, 0, len(r.dataProducerConsumers[p.ID]))
	for cid := range r.dataProducerConsumers[p.ID] {
		consumerIDs = append(consumerIDs, cid)
	}
	r.mu.Unlock()

	for _, cid := range consumerIDs {
		r.mu.Lock()
		c := r.dataConsumers[cid]
		r.mu.Unlock()
		if c == nil {
			continue
		}
		if err := c.SendMessage(data, isString); err != nil {
			r.log.V(1).Info("failed to relay data message", "consumer", cid, "error", err.Error())
		}
	}
}

// OnDataProducerClosed implements sctp.DataProducerListener: the peer closed
// its end of the stream directly, so tear down the same way an explicit
// CloseDataProducer would, minus the redundant channel close.
func (r *Router) OnDataProducerClosed(p *sctp.DataProducer) {
	r.mu.Lock()
	consumerIDs := r.dataProducerConsumers[p.ID]
	transportID := r.dataProducerTransport[p.ID]
	_, known := r.dataProducers[p.ID]
	r.mu.Unlock()
	if !known {
		return
	}

	for cid := range consumerIDs {
		_ = r.CloseDataConsumer(cid)
	}

	r.mu.Lock()
	delete(r.dataProducers, p.ID)
	delete(r.dataProducerConsumers, p.ID)
	delete(r.dataProducerTransport, p.ID)
	if set := r.transportDataProducers[transportID]; set != nil {
		delete(set, p.ID)
	}
	r.mu.Unlock()

	stats.DataProducerClosed()
}
