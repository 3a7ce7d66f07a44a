package dtls

import (
	"net"
	"sync"
	"time"
)

// pipeConn adapts the BIO-pump contract spec.md §4.3 requires of a DtlsTransport
// (processDtlsData feeds incoming ciphertext in, OnDtlsTransportSendData carries
// outgoing ciphertext out) into the blocking net.Conn interface pion/dtls expects to
// read and write against. There is no real socket underneath: the Transport owns the
// UDP/TCP I/O and demuxes DTLS bytes to Feed; whatever pion/dtls writes is handed to
// onWrite synchronously from within Write.
type pipeConn struct {
	local, remote net.Addr

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  [][]byte
	closed bool

	onWrite func([]byte)
}

func newPipeConn(local, remote net.Addr, onWrite func([]byte)) *pipeConn {
	p := &pipeConn{local: local, remote: remote, onWrite: onWrite}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed delivers one datagram of DTLS ciphertext received off the wire to a blocked
// or future Read call.
func (p *pipeConn) Feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	cp := append([]byte(nil), b...)
	p.inbox = append(p.inbox, cp)
	p.cond.Signal()
}

func (p *pipeConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.inbox) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed && len(p.inbox) == 0 {
		return 0, net.ErrClosed
	}
	pkt := p.inbox[0]
	p.inbox = p.inbox[1:]
	n := copy(b, pkt)
	return n, nil
}

func (p *pipeConn) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	p.onWrite(b)
	return len(b), nil
}

func (p *pipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func (p *pipeConn) LocalAddr() net.Addr  { return p.local }
func (p *pipeConn) RemoteAddr() net.Addr { return p.remote }

// Deadlines are not honored: pion/dtls runs its own retransmission timers, and
// Transport.Run bounds the handshake with a connect context capped at
// handshakeTimeoutCap, so no Read/Write here needs a timeout of its own.
func (p *pipeConn) SetDeadline(time.Time) error      { return nil }
func (p *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(time.Time) error { return nil }
