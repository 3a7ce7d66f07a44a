package transport

import (
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

type fakeDirectListener struct {
	mu       sync.Mutex
	rtpPkts  [][]byte
	sentRtp  [][]byte
	sentRtcp [][]byte
	closed   bool
}

func (f *fakeDirectListener) OnTransportReceiveRtp(t *DirectTransport, pkt []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtpPkts = append(f.rtpPkts, pkt)
}
func (f *fakeDirectListener) OnTransportReceiveRtcp(t *DirectTransport, packets []rtcp.Packet) {}
func (f *fakeDirectListener) OnTransportSendRtp(t *DirectTransport, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentRtp = append(f.sentRtp, raw)
}
func (f *fakeDirectListener) OnTransportSendRtcp(t *DirectTransport, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentRtcp = append(f.sentRtcp, raw)
}
func (f *fakeDirectListener) OnTransportClose(t *DirectTransport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestDirectTransportInjectRtpDeliversToListener(t *testing.T) {
	listener := &fakeDirectListener{}
	tr := NewDirect("dt1", logr.Discard(), listener)

	tr.InjectRtp([]byte{1, 2, 3, 4})

	require.Len(t, listener.rtpPkts, 1)
	require.EqualValues(t, 4, tr.BytesReceived())
}

func TestDirectTransportSendRtpReturnsWireBytes(t *testing.T) {
	listener := &fakeDirectListener{}
	tr := NewDirect("dt2", logr.Discard(), listener)

	header := &rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, SSRC: 1}
	err := tr.SendRtp(header, []byte{9, 9})
	require.NoError(t, err)
	require.Len(t, listener.sentRtp, 1)
	require.EqualValues(t, len(listener.sentRtp[0]), tr.BytesSent())
}

func TestDirectTransportCloseIsIdempotent(t *testing.T) {
	listener := &fakeDirectListener{}
	tr := NewDirect("dt3", logr.Discard(), listener)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.True(t, listener.closed)
}
