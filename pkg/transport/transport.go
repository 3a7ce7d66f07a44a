// Package transport implements the Transport family of spec.md §3/§4.10: the
// four variants (WebRtcTransport, PlainTransport, PipeTransport, DirectTransport)
// that own Producers/Consumers/DataProducers/DataConsumers and carry RTP/RTCP to
// and from the network. Per spec.md §9's "tagged sum with a shared vtable-style
// trait" guidance, the shared contract is a Go interface (Transport) and the
// common byte/rate accounting lives in a Base struct every variant embeds.
package transport

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Kind distinguishes the four Transport variants.
type Kind int

const (
	KindWebRtc Kind = iota
	KindPlain
	KindPipe
	KindDirect
)

// rateWindow is the sliding window used for the byte-rate estimator (spec.md §3:
// "sliding-window rate estimator").
const rateWindow = time.Second

// Transport is the contract every variant satisfies: production/consumption
// membership and byte accounting, independent of how bytes actually reach the wire.
type Transport interface {
	ID() string
	Kind() Kind
	BytesSent() uint64
	BytesReceived() uint64
	Close() error
}

// RtpSender is the narrow, uniform send contract all four variants implement
// (WebRtcTransport and PlainTransport/PipeTransport encrypt-or-frame-then-write,
// DirectTransport hands the marshaled bytes back through its listener instead),
// letting the Router drive a Consumer's outgoing path without a type switch over
// the concrete Transport variant.
type RtpSender interface {
	SendRtp(header *rtp.Header, payload []byte) error
	SendRtcp(packets []rtcp.Packet) error
}

// rateSample is one windowed byte count, used by Base.rate to compute a trailing
// bytes/sec estimate without keeping per-packet history.
type rateSample struct {
	at    time.Time
	bytes uint64
}

// Base holds the state and accounting common to every Transport variant: id,
// producer/consumer/data-channel membership, and cumulative + windowed byte
// counters. Embedded, not composed, so variant-specific listener methods can still
// satisfy narrow capability interfaces directly on the concrete type.
type Base struct {
	mu sync.Mutex

	id string

	producerIDs     map[string]struct{}
	consumerIDs     map[string]struct{}
	dataProducerIDs map[string]struct{}
	dataConsumerIDs map[string]struct{}

	bytesSent     uint64
	bytesReceived uint64

	sendSamples []rateSample
	recvSamples []rateSample

	closed bool
}

// NewBase initializes the membership sets and counters for one Transport.
func NewBase(id string) Base {
	return Base{
		id:              id,
		producerIDs:     make(map[string]struct{}),
		consumerIDs:     make(map[string]struct{}),
		dataProducerIDs: make(map[string]struct{}),
		dataConsumerIDs: make(map[string]struct{}),
	}
}

// ID returns this Transport's controller-assigned id.
func (b *Base) ID() string { return b.id }

// AddProducer/AddConsumer/RemoveProducer/RemoveConsumer track membership for
// close-cascade and lookup purposes; the Router is the source of truth for the
// actual Producer/Consumer objects, this is just id bookkeeping local to the
// owning Transport (spec.md §3's ownership summary).
func (b *Base) AddProducer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.producerIDs[id] = struct{}{}
}

func (b *Base) RemoveProducer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.producerIDs, id)
}

func (b *Base) AddConsumer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumerIDs[id] = struct{}{}
}

func (b *Base) RemoveConsumer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.consumerIDs, id)
}

// AddDataProducer/AddDataConsumer/RemoveDataProducer/RemoveDataConsumer track the
// SCTP-backed channel membership alongside the RTP-side producer/consumer sets.
func (b *Base) AddDataProducer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dataProducerIDs[id] = struct{}{}
}

func (b *Base) RemoveDataProducer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dataProducerIDs, id)
}

func (b *Base) AddDataConsumer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dataConsumerIDs[id] = struct{}{}
}

func (b *Base) RemoveDataConsumer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dataConsumerIDs, id)
}

// ProducerIDs/ConsumerIDs snapshot current membership.
func (b *Base) ProducerIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.producerIDs))
	for id := range b.producerIDs {
		out = append(out, id)
	}
	return out
}

func (b *Base) ConsumerIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.consumerIDs))
	for id := range b.consumerIDs {
		out = append(out, id)
	}
	return out
}

// RecordSent/RecordReceived update the cumulative and windowed byte counters;
// spec.md §8 testable property 7 requires bytesSent to equal the running sum of
// payload lengths handed to send.
func (b *Base) RecordSent(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytesSent += uint64(n)
	b.sendSamples = appendSample(b.sendSamples, uint64(n))
}

func (b *Base) RecordReceived(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytesReceived += uint64(n)
	b.recvSamples = appendSample(b.recvSamples, uint64(n))
}

func appendSample(samples []rateSample, n uint64) []rateSample {
	now := time.Now()
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	samples = append(samples[i:], rateSample{at: now, bytes: n})
	return samples
}

// BytesSent/BytesReceived return the cumulative totals.
func (b *Base) BytesSent() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesSent
}

func (b *Base) BytesReceived() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesReceived
}

// SendBitrate/RecvBitrate return the trailing one-second bytes/sec estimate.
func (b *Base) SendBitrate() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sumSamples(b.sendSamples)
}

func (b *Base) RecvBitrate() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sumSamples(b.recvSamples)
}

func sumSamples(samples []rateSample) uint64 {
	cutoff := time.Now().Add(-rateWindow)
	var total uint64
	for _, s := range samples {
		if s.at.Before(cutoff) {
			continue
		}
		total += s.bytes
	}
	return total
}

// MarkClosed flips the closed flag, returning false if it was already closed (so
// callers can make Close idempotent).
func (b *Base) MarkClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}
