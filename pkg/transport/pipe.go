package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// pipeFrameHeaderSize is the length-prefix width for one RTP/RTCP frame on the
// Pipe link: a 4-byte big-endian length followed by a 1-byte kind tag, then the
// raw packet bytes. Mirrors the length-prefixed framing style spec.md's control
// channel uses, since a Pipe link is just another reliable point-to-point byte
// stream that needs message boundaries.
const pipeFrameHeaderSize = 5

const (
	pipeFrameRtp  byte = 0
	pipeFrameRtcp byte = 1
)

// maxPipeFrame bounds a single Pipe frame; RTP/RTCP packets never approach this,
// it only guards against a corrupted length prefix causing an unbounded read.
const maxPipeFrame = 64 * 1024

var errPipeFrameTooLarge = errors.New("transport: pipe frame exceeds maximum size")

// PipeListener receives RTP/RTCP relayed in off a PipeTransport.
type PipeListener interface {
	OnTransportReceiveRtp(t *PipeTransport, pkt []byte)
	OnTransportReceiveRtcp(t *PipeTransport, packets []rtcp.Packet)
	OnTransportClose(t *PipeTransport)
}

// PipeTransport relays RTP/RTCP between two Routers (same worker or a different
// one) over a reliable, unencrypted stream connection: no ICE, no DTLS, because
// both ends are trusted worker-internal peers, not untrusted WebRTC clients.
// Producers piped across mirror their encodings unconditionally (spec.md §4.8's
// Pipe Consumer never performs layer selection).
type PipeTransport struct {
	Base

	log      logr.Logger
	listener PipeListener

	conn net.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
}

// NewPipe wraps an established, already-connected stream conn (TCP, or a
// unix-domain socket for same-host worker-to-worker pipes) as a PipeTransport and
// starts its read pump.
func NewPipe(id string, conn net.Conn, log logr.Logger, listener PipeListener) *PipeTransport {
	t := &PipeTransport{
		Base:     NewBase(id),
		log:      log,
		listener: listener,
		conn:     conn,
	}
	go t.readLoop()
	return t
}

// Kind identifies this as the Pipe Transport variant.
func (t *PipeTransport) Kind() Kind { return KindPipe }

func (t *PipeTransport) readLoop() {
	header := make([]byte, pipeFrameHeaderSize)
	for {
		if _, err := io.ReadFull(t.conn, header); err != nil {
			t.closeFromReadLoop()
			return
		}
		length := binary.BigEndian.Uint32(header[:4])
		if length > maxPipeFrame {
			t.log.V(0).Info("pipe frame exceeds maximum size, closing", "transport", t.ID())
			t.closeFromReadLoop()
			return
		}
		kind := header[4]
		payload := make([]byte, length)
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			t.closeFromReadLoop()
			return
		}
		t.RecordReceived(len(payload))
		switch kind {
		case pipeFrameRtp:
			t.listener.OnTransportReceiveRtp(t, payload)
		case pipeFrameRtcp:
			packets, err := rtcp.Unmarshal(payload)
			if err != nil {
				continue
			}
			t.listener.OnTransportReceiveRtcp(t, packets)
		}
	}
}

func (t *PipeTransport) closeFromReadLoop() {
	if t.MarkClosed() {
		_ = t.conn.Close()
		t.listener.OnTransportClose(t)
	}
}

func (t *PipeTransport) writeFrame(kind byte, payload []byte) error {
	if len(payload) > maxPipeFrame {
		return errPipeFrameTooLarge
	}
	header := make([]byte, pipeFrameHeaderSize)
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = kind

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.conn.Write(header); err != nil {
		return err
	}
	n, err := t.conn.Write(payload)
	if err != nil {
		return err
	}
	t.RecordSent(n)
	return nil
}

// SendRtp relays one RTP packet across the pipe, SSRC and all: a Pipe Consumer
// forwards the producer's encodings unrewritten.
func (t *PipeTransport) SendRtp(header *rtp.Header, payload []byte) error {
	raw := make([]byte, header.MarshalSize()+len(payload))
	n, err := header.MarshalTo(raw)
	if err != nil {
		return err
	}
	copy(raw[n:], payload)
	return t.writeFrame(pipeFrameRtp, raw[:n+len(payload)])
}

// SendRtcp relays one compound RTCP packet across the pipe.
func (t *PipeTransport) SendRtcp(packets []rtcp.Packet) error {
	raw, err := rtcp.Marshal(packets)
	if err != nil {
		return err
	}
	return t.writeFrame(pipeFrameRtcp, raw)
}

// Close shuts down the underlying connection. Idempotent; safe to call from
// either the owning Router or the read loop's own error path.
func (t *PipeTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.MarkClosed() {
			err = t.conn.Close()
			t.listener.OnTransportClose(t)
		}
	})
	return err
}
