package transport

import (
	"net"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

type fakePlainListener struct {
	mu       sync.Mutex
	rtpPkts  [][]byte
	rtcpPkts [][]rtcp.Packet
	closed   bool
}

func (f *fakePlainListener) OnTransportReceiveRtp(t *PlainTransport, pkt []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtpPkts = append(f.rtpPkts, pkt)
}

func (f *fakePlainListener) OnTransportReceiveRtcp(t *PlainTransport, packets []rtcp.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtcpPkts = append(f.rtcpPkts, packets)
}

func (f *fakePlainListener) OnTransportClose(t *PlainTransport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func localUDPPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	b, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	return a, b
}

func TestPlainTransportClassifiesRtpVsRtcp(t *testing.T) {
	conn, peer := localUDPPair(t)
	defer conn.Close()
	defer peer.Close()

	listener := &fakePlainListener{}
	tr := NewPlain("pt1", conn, peer.LocalAddr(), false, logr.Discard(), listener)
	defer tr.Close()

	header := &rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, Timestamp: 1000, SSRC: 555}
	raw := make([]byte, header.MarshalSize())
	_, err := header.MarshalTo(raw)
	require.NoError(t, err)

	tr.ReceivePacket(raw, peer.LocalAddr())
	require.Len(t, listener.rtpPkts, 1)

	sr := &rtcp.SenderReport{SSRC: 555}
	rtcpRaw, err := rtcp.Marshal([]rtcp.Packet{sr})
	require.NoError(t, err)

	tr.ReceivePacket(rtcpRaw, peer.LocalAddr())
	require.Len(t, listener.rtcpPkts, 1)
}

func TestPlainTransportComediaLearnsRemoteFromFirstPacket(t *testing.T) {
	conn, peer := localUDPPair(t)
	defer conn.Close()
	defer peer.Close()

	listener := &fakePlainListener{}
	tr := NewPlain("pt2", conn, nil, true, logr.Discard(), listener)
	defer tr.Close()

	header := &rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, SSRC: 1}
	raw := make([]byte, header.MarshalSize())
	_, err := header.MarshalTo(raw)
	require.NoError(t, err)

	tr.ReceivePacket(raw, peer.LocalAddr())
	require.Equal(t, peer.LocalAddr().String(), tr.remote.String())
}

func TestPlainTransportSetRemoteFixesSendTarget(t *testing.T) {
	conn, peer := localUDPPair(t)
	defer conn.Close()
	defer peer.Close()

	listener := &fakePlainListener{}
	tr := NewPlain("pt4", conn, nil, false, logr.Discard(), listener)
	defer tr.Close()

	require.Nil(t, tr.remote)
	tr.SetRemote(peer.LocalAddr())
	require.Equal(t, peer.LocalAddr().String(), tr.remote.String())
}

func TestPlainTransportSetRemoteIgnoredUnderComedia(t *testing.T) {
	conn, peer := localUDPPair(t)
	defer conn.Close()
	defer peer.Close()

	listener := &fakePlainListener{}
	tr := NewPlain("pt5", conn, nil, true, logr.Discard(), listener)
	defer tr.Close()

	tr.SetRemote(peer.LocalAddr())
	require.Nil(t, tr.remote)
}

func TestPlainTransportCloseNotifiesListenerOnce(t *testing.T) {
	conn, peer := localUDPPair(t)
	defer peer.Close()

	listener := &fakePlainListener{}
	tr := NewPlain("pt3", conn, peer.LocalAddr(), false, logr.Discard(), listener)

	require.NoError(t, tr.Close())
	require.True(t, listener.closed)
}
