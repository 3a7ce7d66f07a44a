package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

type fakePipeListener struct {
	mu      sync.Mutex
	rtpPkts [][]byte
	closed  bool
	done    chan struct{}
}

func newFakePipeListener() *fakePipeListener {
	return &fakePipeListener{done: make(chan struct{}, 8)}
}

func (f *fakePipeListener) OnTransportReceiveRtp(t *PipeTransport, pkt []byte) {
	f.mu.Lock()
	f.rtpPkts = append(f.rtpPkts, pkt)
	f.mu.Unlock()
	f.done <- struct{}{}
}
func (f *fakePipeListener) OnTransportReceiveRtcp(t *PipeTransport, packets []rtcp.Packet) {}
func (f *fakePipeListener) OnTransportClose(t *PipeTransport) {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func TestPipeTransportRelaysRtpAcrossLink(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	clientListener := newFakePipeListener()
	serverListener := newFakePipeListener()

	client := NewPipe("pipe-client", clientConn, logr.Discard(), clientListener)
	server := NewPipe("pipe-server", serverConn, logr.Discard(), serverListener)
	defer client.Close()
	defer server.Close()

	hdr := &rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 42, SSRC: 9}
	require.NoError(t, client.SendRtp(hdr, []byte{1, 2, 3}))

	select {
	case <-serverListener.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed rtp")
	}

	require.Len(t, serverListener.rtpPkts, 1)
}

func TestPipeTransportCloseNotifiesBothEnds(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	clientListener := newFakePipeListener()
	serverListener := newFakePipeListener()

	client := NewPipe("pipe-client2", clientConn, logr.Discard(), clientListener)
	server := NewPipe("pipe-server2", serverConn, logr.Discard(), serverListener)

	require.NoError(t, client.Close())
	// give the server's read loop a moment to observe EOF from the closed pipe
	time.Sleep(50 * time.Millisecond)
	server.Close()

	require.True(t, clientListener.closed)
	require.Eventually(t, func() bool {
		serverListener.mu.Lock()
		defer serverListener.mu.Unlock()
		return serverListener.closed
	}, time.Second, 10*time.Millisecond)
}
