package router

import (
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/ionworker/worker/pkg/buffer"
	"github.com/ionworker/worker/pkg/consumer"
	"github.com/ionworker/worker/pkg/observer"
	"github.com/ionworker/worker/pkg/producer"
	"github.com/ionworker/worker/pkg/rtpstream"
)

// fakeTransport is a minimal transport.Transport + transport.RtpSender double
// good enough to exercise the Router's dispatch without any real networking.
type fakeTransport struct {
	id string

	mu       sync.Mutex
	sentRtp  []*rtp.Packet
	sentRtcp []rtcp.Packet
	closed   bool
}

func newFakeTransport(id string) *fakeTransport { return &fakeTransport{id: id} }

func (f *fakeTransport) ID() string          { return f.id }
func (f *fakeTransport) BytesSent() uint64   { return 0 }
func (f *fakeTransport) BytesReceived() uint64 { return 0 }
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendRtp(header *rtp.Header, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentRtp = append(f.sentRtp, &rtp.Packet{Header: *header, Payload: payload})
	return nil
}

func (f *fakeTransport) SendRtcp(packets []rtcp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentRtcp = append(f.sentRtcp, packets...)
	return nil
}

func (f *fakeTransport) rtpCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentRtp)
}

func (f *fakeTransport) rtcpCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentRtcp)
}

func newTestFactory() *buffer.Factory {
	return buffer.NewBufferFactory(100, logr.Discard())
}

func newRtpPacket(ssrc uint32, seq uint16) []byte {
	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, SSRC: ssrc, SequenceNumber: seq, Timestamp: uint32(seq) * 160}, Payload: []byte{1, 2, 3}}
	raw, err := pkt.Marshal()
	if err != nil {
		panic(err)
	}
	return raw
}

// newRtpPacketWithTwcc builds a packet carrying a transport-wide-cc sequence
// number in the one-byte extension slot extID, for exercising pkg/twcc's
// receiver-side feedback path.
func newRtpPacketWithTwcc(ssrc uint32, seq uint16, extID uint8, twccSeq uint16) []byte {
	hdr := rtp.Header{Version: 2, SSRC: ssrc, SequenceNumber: seq, Timestamp: uint32(seq) * 160, Extension: true, ExtensionProfile: 0xBEDE}
	buf := make([]byte, 2)
	buf[0] = byte(twccSeq >> 8)
	buf[1] = byte(twccSeq)
	_ = hdr.SetExtension(extID, buf)
	pkt := &rtp.Packet{Header: hdr, Payload: []byte{1, 2, 3}}
	raw, err := pkt.Marshal()
	if err != nil {
		panic(err)
	}
	return raw
}

// newRtpPacketWithAudioLevel builds a packet carrying an ssrc-audio-level
// extension value, for exercising the RtpObserver feed path.
func newRtpPacketWithAudioLevel(ssrc uint32, seq uint16, extID uint8, level uint8) []byte {
	hdr := rtp.Header{Version: 2, SSRC: ssrc, SequenceNumber: seq, Timestamp: uint32(seq) * 160, Extension: true, ExtensionProfile: 0xBEDE}
	_ = hdr.SetExtension(extID, []byte{level & 0x7f})
	pkt := &rtp.Packet{Header: hdr, Payload: []byte{1, 2, 3}}
	raw, err := pkt.Marshal()
	if err != nil {
		panic(err)
	}
	return raw
}

func TestRouterForwardsProducerPacketsToBoundConsumer(t *testing.T) {
	r := New("router-1", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	p, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)

	c, err := r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 1)))

	require.Equal(t, 1, consumerTransport.rtpCount())
	require.EqualValues(t, 5000, consumerTransport.sentRtp[0].SSRC)
	require.Zero(t, producerTransport.rtpCount())
}

func TestRouterDoesNotAliasHeaderAcrossConsumers(t *testing.T) {
	r := New("router-2", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransportA := newFakeTransport("t-a")
	consumerTransportB := newFakeTransport("t-b")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransportA, consumerTransportA)
	r.AddTransport(consumerTransportB, consumerTransportB)

	p, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)

	_, err = r.CreateConsumer("t-a", "ca", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5001}})
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-b", "cb", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5002}})
	require.NoError(t, err)

	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 7)))

	require.Equal(t, 1, consumerTransportA.rtpCount())
	require.Equal(t, 1, consumerTransportB.rtpCount())
	require.EqualValues(t, 5001, consumerTransportA.sentRtp[0].SSRC)
	require.EqualValues(t, 5002, consumerTransportB.sentRtp[0].SSRC)
}

func TestRouterCascadesPauseResumeToConsumers(t *testing.T) {
	r := New("router-3", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	require.NoError(t, r.PauseProducer("p1"))

	p := r.producers["p1"]
	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 1)))
	require.Zero(t, consumerTransport.rtpCount())

	require.NoError(t, r.ResumeProducer("p1"))
	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 2)))
	require.Equal(t, 1, consumerTransport.rtpCount())
}

func TestRouterClosingProducerMarksBoundConsumerProducerClosed(t *testing.T) {
	r := New("router-4", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	c, err := r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	require.NoError(t, r.CloseProducer("p1"))

	require.True(t, c.ProducerClosed())
	require.Empty(t, r.producers)
}

func TestRouterForwardsKeyFrameRequestToProducerTransport(t *testing.T) {
	r := New("router-5", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	c, err := r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	r.OnConsumerRequestKeyFrame(c, 1000)

	require.Equal(t, 1, producerTransport.rtcpCount())
	require.Zero(t, consumerTransport.rtcpCount())
	_, ok := producerTransport.sentRtcp[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
}

func TestRouterUnknownProducerOrTransportErrors(t *testing.T) {
	r := New("router-6", logr.Discard())

	_, err := r.CreateProducer("missing", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, nil, 90000, newTestFactory())
	require.ErrorIs(t, err, ErrUnknownTransport)

	producerTransport := newFakeTransport("t-produce")
	r.AddTransport(producerTransport, producerTransport)
	_, err = r.CreateConsumer("t-produce", "c1", "missing-producer", consumer.TypeSimple, false, nil)
	require.ErrorIs(t, err, ErrUnknownProducer)
}

func TestRouterDeliverRtpRoutesBySsrcToOwningProducer(t *testing.T) {
	r := New("router-7", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	require.NoError(t, r.DeliverRtp("t-produce", newRtpPacket(1000, 1)))
	require.Equal(t, 1, consumerTransport.rtpCount())

	err = r.DeliverRtp("t-produce", newRtpPacket(9999, 1))
	require.ErrorIs(t, err, ErrUnknownProducer)
}

func TestRouterPauseConsumerStopsForwardingIndependentlyOfProducer(t *testing.T) {
	r := New("router-9", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	require.NoError(t, r.PauseConsumer("c1"))

	p := r.producers["p1"]
	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 1)))
	require.Zero(t, consumerTransport.rtpCount())

	require.NoError(t, r.ResumeConsumer("c1"))
	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 2)))
	require.Equal(t, 1, consumerTransport.rtpCount())

	err = r.PauseConsumer("missing")
	require.ErrorIs(t, err, ErrUnknownConsumer)
}

func TestRouterRequestConsumerKeyFrameForwardsToProducerTransport(t *testing.T) {
	r := New("router-10", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	require.NoError(t, r.RequestConsumerKeyFrame("c1"))
	require.Equal(t, 1, producerTransport.rtcpCount())

	err = r.RequestConsumerKeyFrame("missing")
	require.ErrorIs(t, err, ErrUnknownConsumer)
}

func TestRouterTransportProducersAndConsumersListOwnedIds(t *testing.T) {
	r := New("router-11", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	require.Equal(t, []string{"p1"}, r.TransportProducers("t-produce"))
	require.Equal(t, []string{"c1"}, r.TransportConsumers("t-consume"))
	require.Equal(t, []string{"c1"}, r.ConsumersOf("p1"))
	require.Empty(t, r.TransportProducers("t-consume"))
}

func TestRouterCloseTearsDownEveryTransport(t *testing.T) {
	r := New("router-12", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	require.NoError(t, r.Close())

	require.True(t, producerTransport.closed)
	require.True(t, consumerTransport.closed)
	require.Empty(t, r.producers)
	require.Empty(t, r.consumers)
}

func TestRouterDeliverRtcpRoutesReceiverReportAndPliToConsumer(t *testing.T) {
	r := New("router-8", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	_, err = r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000}})
	require.NoError(t, err)

	r.DeliverRtcp("t-consume", []rtcp.Packet{&rtcp.ReceiverReport{SSRC: 1, Reports: []rtcp.ReceptionReport{{SSRC: 5000, FractionLost: 10}}}})
	r.DeliverRtcp("t-consume", []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: 5000}})

	require.Equal(t, 1, producerTransport.rtcpCount())
	_, ok := producerTransport.sentRtcp[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
}

// TestRouterForwardsTwccFeedbackToProducerTransport exercises the
// pkg/twcc.Responder wiring end to end: a Producer created with a
// transport-wide-cc extension id builds a Responder, and pushing enough
// transport-wide sequence numbers through it (more than the 100-packet
// threshold, so the feedback fires regardless of timing) must surface an
// rtcp.RawPacket back on the Producer's own transport.
func TestRouterForwardsTwccFeedbackToProducerTransport(t *testing.T) {
	r := New("router-twcc", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	r.AddTransport(producerTransport, producerTransport)

	const twccExtID = 5
	ext := rtpstream.ExtensionMap{TransportWideCC: twccExtID}
	p, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, ext, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)

	for i := uint16(0); i < 110; i++ {
		require.NoError(t, p.ReceiveRtp(newRtpPacketWithTwcc(1000, i+1, twccExtID, i)))
	}

	require.NotZero(t, producerTransport.rtcpCount())
	_, ok := producerTransport.sentRtcp[0].(rtcp.RawPacket)
	require.True(t, ok)
}

// fakeObserverListener records every RtpObserver notification the Router
// relays, standing in for the controller-facing Worker in these tests.
type fakeObserverListener struct {
	mu               sync.Mutex
	volumes          [][]observer.VolumeEntry
	silences         int
	dominantSpeakers []string
}

func (f *fakeObserverListener) OnAudioLevelVolumes(observerID string, volumes []observer.VolumeEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, volumes)
}

func (f *fakeObserverListener) OnAudioLevelSilence(observerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silences++
}

func (f *fakeObserverListener) OnActiveSpeakerDominantSpeaker(observerID, producerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dominantSpeakers = append(f.dominantSpeakers, producerID)
}

func TestRouterFeedsAudioLevelObserverAndNotifiesVolumes(t *testing.T) {
	r := New("router-audiolevel", logr.Discard())
	listener := &fakeObserverListener{}
	r.SetObserverListener(listener)

	producerTransport := newFakeTransport("t-produce")
	r.AddTransport(producerTransport, producerTransport)

	const levelExtID = 1
	ext := rtpstream.ExtensionMap{AudioLevel: levelExtID}
	p, err := r.CreateProducer("t-produce", "p1", producer.KindAudio, ext, []producer.Encoding{{Ssrc: 2000}}, 48000, newTestFactory())
	require.NoError(t, err)

	o, err := r.CreateAudioLevelObserver("o1", 1, -127, time.Minute)
	require.NoError(t, err)
	require.NoError(t, r.AddProducerToAudioLevelObserver("o1", "p1"))

	for i := uint16(0); i < 12; i++ {
		require.NoError(t, p.ReceiveRtp(newRtpPacketWithAudioLevel(2000, i+1, levelExtID, 40)))
	}

	o.Update()

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Len(t, listener.volumes, 1)
	require.Len(t, listener.volumes[0], 1)
	require.Equal(t, "p1", listener.volumes[0][0].ProducerID)
	require.EqualValues(t, -40, listener.volumes[0][0].Volume)

	err = r.AddProducerToAudioLevelObserver("missing", "p1")
	require.ErrorIs(t, err, ErrUnknownAudioLevelObserver)
}

func TestRouterRemovingObserverStopsFeedingIt(t *testing.T) {
	r := New("router-audiolevel-remove", logr.Discard())
	listener := &fakeObserverListener{}
	r.SetObserverListener(listener)

	producerTransport := newFakeTransport("t-produce")
	r.AddTransport(producerTransport, producerTransport)

	const levelExtID = 1
	ext := rtpstream.ExtensionMap{AudioLevel: levelExtID}
	p, err := r.CreateProducer("t-produce", "p1", producer.KindAudio, ext, []producer.Encoding{{Ssrc: 2001}}, 48000, newTestFactory())
	require.NoError(t, err)

	o, err := r.CreateAudioLevelObserver("o2", 1, -127, time.Minute)
	require.NoError(t, err)
	require.NoError(t, r.AddProducerToAudioLevelObserver("o2", "p1"))
	require.NoError(t, r.RemoveProducerFromAudioLevelObserver("o2", "p1"))

	for i := uint16(0); i < 12; i++ {
		require.NoError(t, p.ReceiveRtp(newRtpPacketWithAudioLevel(2001, i+1, levelExtID, 40)))
	}

	o.Update()

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Empty(t, listener.volumes)
}

func TestRouterCloseProducerRemovesItFromObservers(t *testing.T) {
	r := New("router-audiolevel-close", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	r.AddTransport(producerTransport, producerTransport)

	ext := rtpstream.ExtensionMap{AudioLevel: 1}
	_, err := r.CreateProducer("t-produce", "p1", producer.KindAudio, ext, []producer.Encoding{{Ssrc: 2002}}, 48000, newTestFactory())
	require.NoError(t, err)

	_, err = r.CreateAudioLevelObserver("o3", 1, -127, time.Minute)
	require.NoError(t, err)
	require.NoError(t, r.AddProducerToAudioLevelObserver("o3", "p1"))

	require.NoError(t, r.CloseProducer("p1"))

	err = r.AddProducerToAudioLevelObserver("o3", "p1")
	require.ErrorIs(t, err, ErrUnknownProducer)
}

// TestRouterRetransmitsNackedPacketsToConsumer exercises the RTX cache path:
// a NACK arriving on a Consumer's transport must resolve back to the
// Producer's media ssrc, be expanded into individual sequence numbers, and
// produce one retransmitted rtx packet per still-cached original.
func TestRouterRetransmitsNackedPacketsToConsumer(t *testing.T) {
	r := New("router-rtx", logr.Discard())

	producerTransport := newFakeTransport("t-produce")
	consumerTransport := newFakeTransport("t-consume")
	r.AddTransport(producerTransport, producerTransport)
	r.AddTransport(consumerTransport, consumerTransport)

	_, err := r.CreateProducer("t-produce", "p1", producer.KindVideo, rtpstream.ExtensionMap{}, []producer.Encoding{{Ssrc: 1000}}, 90000, newTestFactory())
	require.NoError(t, err)
	c, err := r.CreateConsumer("t-consume", "c1", "p1", consumer.TypeSimple, false, []rtpstream.SendParams{{Ssrc: 5000, RtxSsrc: 5001}})
	require.NoError(t, err)
	require.NotNil(t, c)

	p := r.producers["p1"]
	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 1)))
	require.NoError(t, p.ReceiveRtp(newRtpPacket(1000, 2)))
	require.Equal(t, 2, consumerTransport.rtpCount())

	outSeq := consumerTransport.sentRtp[0].SequenceNumber

	r.DeliverRtcp("t-consume", []rtcp.Packet{&rtcp.TransportLayerNack{
		SenderSSRC: 5000,
		MediaSSRC:  5000,
		Nacks:      []rtcp.NackPair{{PacketID: outSeq, LostPackets: 0}},
	}})

	require.Equal(t, 3, consumerTransport.rtpCount())
	retransmitted := consumerTransport.sentRtp[2]
	require.EqualValues(t, 5001, retransmitted.SSRC)
}
