// Package webrtcserver implements the port-sharing frontend of spec.md §4.10:
// a fixed set of UDP sockets (and, eventually, TCP listeners) shared by many
// WebRtcTransports, demultiplexing each arriving datagram to its owner by STUN
// ufrag or by tuple.
package webrtcserver

import (
	"net"
	"sync"

	"github.com/go-logr/logr"
	pionice "github.com/pion/ice/v2"

	"github.com/ionworker/worker/pkg/ice"
	"github.com/ionworker/worker/pkg/portmgr"
	"github.com/ionworker/worker/pkg/stun"
	"github.com/ionworker/worker/pkg/transport"
)

// transportEntry is the value the ufrag and tuple demux tables store: the
// WebRtcTransport a matching datagram is handed to.
type transportEntry struct {
	tr *transport.WebRtcTransport
}

// Server owns one or more UDP sockets and indexes the WebRtcTransports that
// borrow them by ufrag and by tuple, without owning the transports themselves
// (spec.md §3: "indexes WebRtcTransports by ufrag and tuple without owning
// them -- back-references only").
type Server struct {
	mu sync.Mutex

	log logr.Logger

	conns []*net.UDPConn

	byUfrag map[string]*transportEntry
	byTuple map[string]*transportEntry
}

// New creates a Server with one bound UDP socket per requested listenIP, pulled
// from pm's port range.
func New(pm *portmgr.Manager, listenIPs []net.IP, log logr.Logger) (*Server, error) {
	s := &Server{
		log:     log,
		byUfrag: make(map[string]*transportEntry),
		byTuple: make(map[string]*transportEntry),
	}
	for _, ip := range listenIPs {
		conn, _, err := pm.BindUDP(ip)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.conns = append(s.conns, conn)
		go s.readLoop(conn)
	}
	return s, nil
}

func (s *Server) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		pkt := append([]byte{}, buf[:n]...)
		s.dispatch(pkt, conn.LocalAddr(), from)
	}
}

// dispatch implements spec.md §4.10's two-step demux: tuple lookup first (to
// avoid ufrag-reuse races once a tuple is established), STUN ufrag lookup for
// anything not yet in the tuple table.
func (s *Server) dispatch(pkt []byte, local, remote net.Addr) {
	tupleKey := tupleKeyFor(local, remote)

	s.mu.Lock()
	entry, ok := s.byTuple[tupleKey]
	s.mu.Unlock()
	if ok {
		entry.tr.ReceivePacket(pkt, local, remote)
		return
	}

	if !stun.IsStunMessage(pkt) {
		return // no known tuple and not a STUN bind attempt: drop
	}

	req, err := stun.ParseBindingRequest(pkt)
	if err != nil {
		return
	}

	s.mu.Lock()
	entry, ok = s.byUfrag[req.LocalUfrag]
	s.mu.Unlock()
	if !ok {
		return
	}
	entry.tr.ReceivePacket(pkt, local, remote)
}

func tupleKeyFor(local, remote net.Addr) string {
	return pionice.NetworkTypeUDP4.String() + "|" + local.String() + "|" + remote.String()
}

// RegisterTransport indexes tr by its IceServer's ufrag, called once when tr is
// created (spec.md §4.10: "WebRtcTransports register their ufrag when their
// IceServer is created").
func (s *Server) RegisterTransport(tr *transport.WebRtcTransport, ufrag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUfrag[ufrag] = &transportEntry{tr: tr}
	tr.SetTupleListener(s)
}

// UnregisterTransport removes tr's ufrag and every tuple it owns, called on
// close.
func (s *Server) UnregisterTransport(tr *transport.WebRtcTransport, ufrag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUfrag, ufrag)
	for k, e := range s.byTuple {
		if e.tr == tr {
			delete(s.byTuple, k)
		}
	}
}

// OnTransportTupleAdded/Removed implement transport.TupleListener, keeping the
// tuple table in sync as a WebRtcTransport's IceServer validates new tuples.
func (s *Server) OnTransportTupleAdded(tr *transport.WebRtcTransport, tuple ice.Tuple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTuple[tupleKeyFor(tuple.LocalAddr, tuple.RemoteAddr)] = &transportEntry{tr: tr}
}

func (s *Server) OnTransportTupleRemoved(tr *transport.WebRtcTransport, tuple ice.Tuple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTuple, tupleKeyFor(tuple.LocalAddr, tuple.RemoteAddr))
}

// WriteTo implements transport.Socket, sending through whichever of this
// server's sockets matches addr's IP family. With a single shared socket (the
// common case) this degenerates to writing on the one conn.
func (s *Server) WriteTo(b []byte, addr net.Addr) (int, error) {
	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()
	if len(conns) == 0 {
		return 0, net.ErrClosed
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, net.InvalidAddrError("webrtcserver: non-udp address")
	}
	for _, conn := range conns {
		if sameFamily(conn.LocalAddr(), udpAddr) {
			return conn.WriteToUDP(b, udpAddr)
		}
	}
	return conns[0].WriteToUDP(b, udpAddr)
}

// LocalAddrs exposes the bound address of every socket this Server owns, so a
// createWebRtcTransport response can advertise one ICE candidate per listening
// interface (spec.md scenario S2 expects exactly one when the worker was started
// with a single listen IP).
func (s *Server) LocalAddrs() []*net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]*net.UDPAddr, 0, len(s.conns))
	for _, c := range s.conns {
		if a, ok := c.LocalAddr().(*net.UDPAddr); ok {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func sameFamily(local net.Addr, remote *net.UDPAddr) bool {
	l, ok := local.(*net.UDPAddr)
	if !ok {
		return false
	}
	return (l.IP.To4() != nil) == (remote.IP.To4() != nil)
}

// Close shuts down every owned socket. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
