package transport

import (
	"net"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	pionstun "github.com/pion/stun"
	"github.com/stretchr/testify/require"

	"github.com/ionworker/worker/pkg/dtls"
	"github.com/ionworker/worker/pkg/ice"
)

type fakeWebRtcListener struct {
	mu      sync.Mutex
	rtpPkts [][]byte
	closed  bool
}

func (f *fakeWebRtcListener) OnTransportReceiveRtp(t *WebRtcTransport, pkt []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtpPkts = append(f.rtpPkts, pkt)
}
func (f *fakeWebRtcListener) OnTransportReceiveRtcp(t *WebRtcTransport, packets []rtcp.Packet) {}
func (f *fakeWebRtcListener) OnTransportIceStateChange(t *WebRtcTransport, state ice.State)   {}
func (f *fakeWebRtcListener) OnTransportClose(t *WebRtcTransport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeSocket struct {
	mu    sync.Mutex
	sent  [][]byte
	addrs []net.Addr
}

func (s *fakeSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte{}, b...)
	s.sent = append(s.sent, cp)
	s.addrs = append(s.addrs, addr)
	return len(b), nil
}

func newTestWebRtcTransport(t *testing.T) (*WebRtcTransport, *fakeSocket, *fakeWebRtcListener) {
	t.Helper()
	certs, err := dtls.GlobalCertificates()
	require.NoError(t, err)

	socket := &fakeSocket{}
	listener := &fakeWebRtcListener{}
	tr, err := New("wt1", socket, certs, dtls.RoleServer, logr.Discard(), listener)
	require.NoError(t, err)
	return tr, socket, listener
}

func buildBindingRequest(t *testing.T, localUfrag, remoteUfrag, password string, useCandidate bool) []byte {
	t.Helper()
	m := pionstun.New()
	setters := []pionstun.Setter{
		pionstun.NewType(pionstun.MethodBinding, pionstun.ClassRequest),
		pionstun.NewTransactionIDSetter(),
		pionstun.Username(localUfrag + ":" + remoteUfrag),
		pionstun.NewShortTermIntegrity(password),
		pionstun.Fingerprint,
	}
	if useCandidate {
		setters = append(setters, pionstun.UseCandidate)
	}
	require.NoError(t, m.Build(setters...))
	return m.Raw
}

func TestWebRtcTransportAnswersValidStunBindingWithSuccess(t *testing.T) {
	tr, socket, _ := newTestWebRtcTransport(t)
	defer tr.dtlsTr.Close()

	req := buildBindingRequest(t, tr.UsernameFragment(), "remoteufrag", tr.Password(), true)

	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1000}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2000}
	tr.ReceivePacket(req, local, remote)

	require.Len(t, socket.sent, 1)
	resp := &pionstun.Message{Raw: socket.sent[0]}
	require.NoError(t, resp.Decode())
	require.Equal(t, pionstun.NewType(pionstun.MethodBinding, pionstun.ClassSuccessResponse), resp.Type)

	tuple, ok := tr.iceServer.SelectedTuple()
	require.True(t, ok)
	require.Equal(t, remote.String(), tuple.RemoteAddr.String())
}

func TestWebRtcTransportRejectsStunWithWrongUfrag(t *testing.T) {
	tr, socket, _ := newTestWebRtcTransport(t)
	defer tr.dtlsTr.Close()

	req := buildBindingRequest(t, "wrongufrag", "remoteufrag", tr.Password(), false)

	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1000}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2000}
	tr.ReceivePacket(req, local, remote)

	require.Len(t, socket.sent, 1)
	resp := &pionstun.Message{Raw: socket.sent[0]}
	require.NoError(t, resp.Decode())
	require.Equal(t, pionstun.NewType(pionstun.MethodBinding, pionstun.ClassErrorResponse), resp.Type)

	_, ok := tr.iceServer.SelectedTuple()
	require.False(t, ok)
}

func TestWebRtcTransportConnectSelectedTupleFailsBeforeIceNominates(t *testing.T) {
	tr, _, _ := newTestWebRtcTransport(t)
	defer tr.dtlsTr.Close()

	err := tr.ConnectSelectedTuple()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestWebRtcTransportConnectSelectedTupleUsesNominatedTuple(t *testing.T) {
	tr, socket, _ := newTestWebRtcTransport(t)
	defer tr.dtlsTr.Close()
	defer tr.Close()

	req := buildBindingRequest(t, tr.UsernameFragment(), "remoteufrag", tr.Password(), true)
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1000}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2000}
	tr.ReceivePacket(req, local, remote)
	require.Len(t, socket.sent, 1)

	err := tr.ConnectSelectedTuple()
	require.NoError(t, err)
}

func TestWebRtcTransportSendRtcpFailsWithoutDtls(t *testing.T) {
	tr, _, _ := newTestWebRtcTransport(t)
	defer tr.dtlsTr.Close()

	err := tr.SendRtcp(nil)
	require.ErrorIs(t, err, ErrNotConnected)
}
