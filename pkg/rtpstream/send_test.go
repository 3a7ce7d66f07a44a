package rtpstream

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestRtpStreamSendRewritesSSRCAndPreservesMonotonicSeq(t *testing.T) {
	s := NewRtpStreamSend(SendParams{Ssrc: 0xBEEF, ClockRate: 90000})

	first := &rtp.Packet{Header: rtp.Header{SSRC: 0x1111, SequenceNumber: 100, Timestamp: 1000}, Payload: []byte{1}}
	require.True(t, s.RewritePacket(first))
	require.EqualValues(t, 0xBEEF, first.SSRC)
	require.EqualValues(t, 1, first.SequenceNumber)

	second := &rtp.Packet{Header: rtp.Header{SSRC: 0x1111, SequenceNumber: 101, Timestamp: 1090}, Payload: []byte{2}}
	require.True(t, s.RewritePacket(second))
	require.EqualValues(t, 2, second.SequenceNumber)
}

func TestRtxEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	encoded := RtxEncode(4242, payload)

	seq, original, ok := RtxDecode(encoded)
	require.True(t, ok)
	require.EqualValues(t, 4242, seq)
	require.Equal(t, payload, original)
}

func TestRtxDecodeRejectsShortPayload(t *testing.T) {
	_, _, ok := RtxDecode([]byte{0x01})
	require.False(t, ok)
}

func TestBuildRtxPacketRebuildsCachedPacketUnderRtxSsrc(t *testing.T) {
	s := NewRtpStreamSend(SendParams{Ssrc: 0xBEEF, RtxSsrc: 0xFEED, ClockRate: 90000})

	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 0x1111, SequenceNumber: 100, Timestamp: 1000}, Payload: []byte{9, 9, 9}}
	require.True(t, s.RewritePacket(pkt))
	outSeq := pkt.SequenceNumber

	rtx, ok := s.BuildRtxPacket(outSeq)
	require.True(t, ok)
	require.EqualValues(t, 0xFEED, rtx.SSRC)

	seq, original, ok := RtxDecode(rtx.Payload)
	require.True(t, ok)
	require.Equal(t, outSeq, seq)
	require.Equal(t, []byte{9, 9, 9}, original)
}

func TestBuildRtxPacketMissesWithoutRtxSsrcOrUncachedSeq(t *testing.T) {
	s := NewRtpStreamSend(SendParams{Ssrc: 0xBEEF, ClockRate: 90000})
	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 0x1111, SequenceNumber: 1, Timestamp: 1000}, Payload: []byte{1}}
	require.True(t, s.RewritePacket(pkt))

	_, ok := s.BuildRtxPacket(pkt.SequenceNumber)
	require.False(t, ok, "no RtxSsrc negotiated, nothing should be rebuildable")

	s2 := NewRtpStreamSend(SendParams{Ssrc: 0xBEEF, RtxSsrc: 0xFEED, ClockRate: 90000})
	_, ok = s2.BuildRtxPacket(9999)
	require.False(t, ok, "sequence never cached")
}

func TestBuildRtxPacketEvictsOldestOnceHistoryFull(t *testing.T) {
	s := NewRtpStreamSend(SendParams{Ssrc: 0xBEEF, RtxSsrc: 0xFEED, ClockRate: 90000})

	var firstOutSeq uint16
	for i := 0; i < rtxHistorySize+1; i++ {
		pkt := &rtp.Packet{Header: rtp.Header{SSRC: 0x1111, SequenceNumber: uint16(i + 1), Timestamp: uint32(i) * 160}, Payload: []byte{byte(i)}}
		require.True(t, s.RewritePacket(pkt))
		if i == 0 {
			firstOutSeq = pkt.SequenceNumber
		}
	}

	_, ok := s.BuildRtxPacket(firstOutSeq)
	require.False(t, ok, "oldest cached packet should have aged out of the bounded history")
}
