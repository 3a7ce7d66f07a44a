package transport

import (
	"net"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// PlainListener receives RTP/RTCP demuxed off a PlainTransport, mirroring
// WebRtcTransport's Listener shape but typed to the concrete variant, since each
// Transport variant callback carries variant-specific context (e.g. the learned
// comedia remote address) a shared interface would have to erase.
type PlainListener interface {
	OnTransportReceiveRtp(t *PlainTransport, pkt []byte)
	OnTransportReceiveRtcp(t *PlainTransport, packets []rtcp.Packet)
	OnTransportClose(t *PlainTransport)
}

// PlainTransport is the unencrypted RTP/RTCP Transport variant: no ICE, no DTLS, a
// single fixed remote endpoint (or one it learns from the first packet when
// comedia mode is requested). Used for interop with legacy RTP endpoints and
// recording pipelines that don't speak WebRTC.
type PlainTransport struct {
	Base

	log      logr.Logger
	listener PlainListener

	conn    net.PacketConn
	remote  net.Addr
	comedia bool
}

// NewPlain creates a PlainTransport bound to conn. If comedia is true, remote is
// learned from the source address of the first received packet instead of being
// fixed up front.
func NewPlain(id string, conn net.PacketConn, remote net.Addr, comedia bool, log logr.Logger, listener PlainListener) *PlainTransport {
	return &PlainTransport{
		Base:     NewBase(id),
		log:      log,
		listener: listener,
		conn:     conn,
		remote:   remote,
		comedia:  comedia,
	}
}

// Kind identifies this as the Plain Transport variant.
func (t *PlainTransport) Kind() Kind { return KindPlain }

// SetRemote fixes the send target for a non-comedia PlainTransport once the
// controller's transport.connect call names it; comedia transports ignore this
// and keep learning their remote from the first received packet instead.
func (t *PlainTransport) SetRemote(remote net.Addr) {
	if t.comedia {
		return
	}
	t.remote = remote
}

// ReceivePacket classifies one unencrypted datagram as RTP or RTCP by its second
// byte's payload-type range, exactly as handleSrtp does post-decryption for the
// WebRTC variant, since there's no SRTP layer here to strip first.
func (t *PlainTransport) ReceivePacket(pkt []byte, from net.Addr) {
	t.RecordReceived(len(pkt))
	if t.comedia && t.remote == nil {
		t.remote = from
	}
	if len(pkt) < 2 {
		return
	}
	if pkt[1] >= 200 && pkt[1] <= 204 {
		packets, err := rtcp.Unmarshal(pkt)
		if err != nil {
			return
		}
		t.listener.OnTransportReceiveRtcp(t, packets)
		return
	}
	t.listener.OnTransportReceiveRtp(t, pkt)
}

// SendRtp writes one RTP packet in the clear to the remote endpoint.
func (t *PlainTransport) SendRtp(header *rtp.Header, payload []byte) error {
	raw := make([]byte, header.MarshalSize()+len(payload))
	n, err := header.MarshalTo(raw)
	if err != nil {
		return err
	}
	copy(raw[n:], payload)
	return t.send(raw[:n+len(payload)])
}

// SendRtcp writes one compound RTCP packet in the clear.
func (t *PlainTransport) SendRtcp(packets []rtcp.Packet) error {
	raw, err := rtcp.Marshal(packets)
	if err != nil {
		return err
	}
	return t.send(raw)
}

func (t *PlainTransport) send(b []byte) error {
	if t.remote == nil {
		return nil // comedia: nothing learned yet, drop silently
	}
	n, err := t.conn.WriteTo(b, t.remote)
	if err != nil {
		return err
	}
	t.RecordSent(n)
	return nil
}

// Close releases the underlying socket. Idempotent.
func (t *PlainTransport) Close() error {
	if !t.MarkClosed() {
		return nil
	}
	err := t.conn.Close()
	t.listener.OnTransportClose(t)
	return err
}
