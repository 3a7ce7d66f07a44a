package transport

import (
	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// DirectListener receives RTP/RTCP injected into a DirectTransport by the
// application itself, rather than off a network socket, and RTP/RTCP a Consumer
// sends out through it (since there's no socket to write to, the bytes are
// handed back through the same listener instead).
type DirectListener interface {
	OnTransportReceiveRtp(t *DirectTransport, pkt []byte)
	OnTransportReceiveRtcp(t *DirectTransport, packets []rtcp.Packet)
	OnTransportSendRtp(t *DirectTransport, raw []byte)
	OnTransportSendRtcp(t *DirectTransport, raw []byte)
	OnTransportClose(t *DirectTransport)
}

// DirectTransport has no network path at all: it exists so an in-process caller
// can act as a Producer's source or a Consumer's sink directly, e.g. to inject
// synthetic audio, or to tap produced RTP for local recording. Send/Receive are
// plain function calls rather than socket I/O; byte accounting in Base is kept
// anyway so a DirectTransport is indistinguishable from the network variants to
// anything only inspecting its Transport interface.
type DirectTransport struct {
	Base

	log      logr.Logger
	listener DirectListener
}

// NewDirect creates a DirectTransport with no backing socket.
func NewDirect(id string, log logr.Logger, listener DirectListener) *DirectTransport {
	return &DirectTransport{
		Base:     NewBase(id),
		log:      log,
		listener: listener,
	}
}

// Kind identifies this as the Direct Transport variant.
func (t *DirectTransport) Kind() Kind { return KindDirect }

// InjectRtp hands a raw RTP packet to this Transport's Producer(s) as if it had
// arrived over the network, for application-driven media injection.
func (t *DirectTransport) InjectRtp(pkt []byte) {
	t.RecordReceived(len(pkt))
	t.listener.OnTransportReceiveRtp(t, pkt)
}

// InjectRtcp hands raw RTCP packets to this Transport as if received.
func (t *DirectTransport) InjectRtcp(packets []rtcp.Packet) {
	raw, err := rtcp.Marshal(packets)
	if err != nil {
		return
	}
	t.RecordReceived(len(raw))
	t.listener.OnTransportReceiveRtcp(t, packets)
}

// SendRtp marshals one RTP packet produced by a Consumer on this Transport and
// hands the wire bytes to the listener instead of writing to a socket, keeping
// the same SendRtp(header, payload) error contract every other Transport
// variant exposes so callers (the Router) don't need a variant-specific path.
func (t *DirectTransport) SendRtp(header *rtp.Header, payload []byte) error {
	raw := make([]byte, header.MarshalSize()+len(payload))
	n, err := header.MarshalTo(raw)
	if err != nil {
		return err
	}
	copy(raw[n:], payload)
	out := raw[:n+len(payload)]
	t.RecordSent(len(out))
	t.listener.OnTransportSendRtp(t, out)
	return nil
}

// SendRtcp marshals one compound RTCP packet, accounts for its bytes, and hands
// the wire bytes to the listener.
func (t *DirectTransport) SendRtcp(packets []rtcp.Packet) error {
	raw, err := rtcp.Marshal(packets)
	if err != nil {
		return err
	}
	t.RecordSent(len(raw))
	t.listener.OnTransportSendRtcp(t, raw)
	return nil
}

// Close marks this Transport closed and notifies its listener. Idempotent.
func (t *DirectTransport) Close() error {
	if !t.MarkClosed() {
		return nil
	}
	t.listener.OnTransportClose(t)
	return nil
}
