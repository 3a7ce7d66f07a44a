package consumer

import (
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/ionworker/worker/pkg/rtpstream"
)

type fakeListener struct {
	mu  sync.Mutex
	out []*rtp.Packet
}

func (f *fakeListener) OnConsumerSendRtp(c *Consumer, pkt *rtp.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, pkt)
}
func (f *fakeListener) OnConsumerRequestKeyFrame(*Consumer, uint32) {}

func TestSimpleConsumerForwardsEveryPacket(t *testing.T) {
	listener := &fakeListener{}
	c := New("c1", "p1", TypeSimple, false, []rtpstream.SendParams{{Ssrc: 777}}, logr.Discard(), listener)

	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 111, SequenceNumber: 1, Timestamp: 1000}, Payload: []byte{1}}
	c.ForwardRtp(0, pkt)

	require.Len(t, listener.out, 1)
	require.EqualValues(t, 777, listener.out[0].SSRC)
}

func TestConsumerDropsWhilePaused(t *testing.T) {
	listener := &fakeListener{}
	c := New("c2", "p1", TypeSimple, false, []rtpstream.SendParams{{Ssrc: 888}}, logr.Discard(), listener)
	c.Pause()

	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 111, SequenceNumber: 1}, Payload: []byte{1}}
	c.ForwardRtp(0, pkt)

	require.Empty(t, listener.out)
}

func TestConsumerRetransmitRebuildsCachedPacketsUnderRtxSsrc(t *testing.T) {
	listener := &fakeListener{}
	c := New("c3", "p1", TypeSimple, false, []rtpstream.SendParams{{Ssrc: 999, RtxSsrc: 1999}}, logr.Discard(), listener)

	for seq := uint16(1); seq <= 3; seq++ {
		pkt := &rtp.Packet{Header: rtp.Header{SSRC: 111, SequenceNumber: seq, Timestamp: uint32(seq) * 160}, Payload: []byte{byte(seq)}}
		c.ForwardRtp(0, pkt)
	}
	require.Len(t, listener.out, 3)
	outSeq := listener.out[0].SequenceNumber

	c.Retransmit(999, []uint16{outSeq})

	require.Len(t, listener.out, 4, "one retransmitted packet appended after the three originals")
	retransmitted := listener.out[3]
	require.EqualValues(t, 1999, retransmitted.SSRC)

	seq, original, ok := rtpstream.RtxDecode(retransmitted.Payload)
	require.True(t, ok)
	require.Equal(t, outSeq, seq)
	require.Equal(t, []byte{1}, original)
}

func TestConsumerRetransmitIgnoresUnknownMediaSsrc(t *testing.T) {
	listener := &fakeListener{}
	c := New("c4", "p1", TypeSimple, false, []rtpstream.SendParams{{Ssrc: 999, RtxSsrc: 1999}}, logr.Discard(), listener)

	c.Retransmit(12345, []uint16{1, 2, 3})

	require.Empty(t, listener.out)
}
