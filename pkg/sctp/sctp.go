// Package sctp implements the SctpAssociation half of spec.md §3's Transport
// ownership list ("owns producers, consumers, dataProducers, dataConsumers;
// holds an optional SctpAssociation"): one SCTP association multiplexed over a
// single DTLS application-data channel (RFC 8831), opening and accepting the
// DataChannel streams that back DataProducers and DataConsumers.
//
// Structured like pkg/dtls: no live socket underneath. The association reads
// and writes against a pumped net.Conn adapter fed by the owning
// WebRtcTransport's DTLS application-data callback, exactly as pkg/dtls's own
// pipeConn pumps ciphertext for the handshake itself.
package sctp

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/datachannel"
	pionsctp "github.com/pion/sctp"

	pionlogging "github.com/ionworker/worker/pkg/logging"
)

// Role picks which side drives the SCTP four-way handshake; mirrors the DTLS
// client/server split, since whichever side is the DTLS client also opens the
// SCTP association as client (RFC 8841).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("sctp: association closed")

// Listener receives association lifecycle events and inbound DataChannels
// opened by the remote peer (DataProducers, from this worker's perspective).
type Listener interface {
	OnSctpAssociationConnected(a *Association)
	OnSctpAssociationClosed(a *Association)
	OnSctpAssociationDataChannelOpen(a *Association, dc *datachannel.DataChannel, streamID uint16, label, protocol string, ordered bool, maxPacketLifeTime, maxRetransmits *uint16)
}

// Association owns one pion/sctp Association running over a pumped
// application-data channel.
type Association struct {
	mu sync.Mutex

	log      logr.Logger
	listener Listener

	conn   *pumpedConn
	assoc  *pionsctp.Association
	closed bool
}

// New creates an Association in role and starts its handshake and accept loop
// in the background; send is called for every byte slice the association
// wants written to the wire (routed to the owning DtlsTransport's
// SendApplicationData by the caller).
func New(log logr.Logger, role Role, send func(b []byte), listener Listener) *Association {
	a := &Association{
		log:      log,
		listener: listener,
		conn:     newPumpedConn(send),
	}
	go a.run(role)
	return a
}

func (a *Association) run(role Role) {
	cfg := pionsctp.Config{
		NetConn:              a.conn,
		MaxReceiveBufferSize: 0,
		LoggerFactory:        pionlogging.NewFactory(a.log),
	}

	var assoc *pionsctp.Association
	var err error
	if role == RoleServer {
		assoc, err = pionsctp.Server(cfg)
	} else {
		assoc, err = pionsctp.Client(cfg)
	}
	if err != nil {
		a.log.V(0).Info("sctp association failed", "error", err.Error())
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = assoc.Close()
		return
	}
	a.assoc = assoc
	a.mu.Unlock()

	a.listener.OnSctpAssociationConnected(a)
	a.acceptLoop(assoc)
}

// acceptLoop mirrors the old SCTPTransport.acceptDataChannels pattern: every
// inbound stream negotiates a DATA_CHANNEL_OPEN handshake before being handed
// to the listener as a new DataProducer.
func (a *Association) acceptLoop(assoc *pionsctp.Association) {
	for {
		dc, err := datachannel.Accept(assoc, &datachannel.Config{LoggerFactory: pionlogging.NewFactory(a.log)})
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed {
				a.log.V(1).Info("sctp accept failed", "error", err.Error())
			}
			return
		}

		ordered, maxPacketLifeTime, maxRetransmits := reliabilityFromConfig(dc.Config)
		a.listener.OnSctpAssociationDataChannelOpen(
			a, dc, dc.StreamIdentifier(), dc.Config.Label, dc.Config.Protocol,
			ordered, maxPacketLifeTime, maxRetransmits,
		)
	}
}

// OpenDataChannel dials a new outbound stream (a DataConsumer's transport),
// used to mirror a DataProducer's messages out to other Transports.
func (a *Association) OpenDataChannel(streamID uint16, label, protocol string, ordered bool, maxPacketLifeTime, maxRetransmits *uint16) (*datachannel.DataChannel, error) {
	a.mu.Lock()
	assoc := a.assoc
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if assoc == nil {
		return nil, errors.New("sctp: association not yet connected")
	}

	cfg := &datachannel.Config{
		ChannelType: channelTypeFor(ordered, maxPacketLifeTime, maxRetransmits),
		Label:       label,
		Protocol:    protocol,
	}
	switch {
	case maxRetransmits != nil:
		cfg.ReliabilityParameter = uint32(*maxRetransmits)
	case maxPacketLifeTime != nil:
		cfg.ReliabilityParameter = uint32(*maxPacketLifeTime)
	}

	return datachannel.Dial(assoc, streamID, cfg)
}

// Feed delivers one decrypted DTLS application-data record to the
// association's read side (called from WebRtcTransport's
// OnDtlsTransportReceiveData).
func (a *Association) Feed(b []byte) {
	a.conn.feed(b)
}

// Close tears the association and its pumped conn down. Idempotent.
func (a *Association) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	assoc := a.assoc
	a.mu.Unlock()

	_ = a.conn.Close()
	if assoc != nil {
		_ = assoc.Close()
	}
	a.listener.OnSctpAssociationClosed(a)
	return nil
}

func reliabilityFromConfig(cfg datachannel.Config) (ordered bool, maxPacketLifeTime, maxRetransmits *uint16) {
	val := uint16(cfg.ReliabilityParameter)
	switch cfg.ChannelType {
	case datachannel.ChannelTypeReliable:
		return true, nil, nil
	case datachannel.ChannelTypeReliableUnordered:
		return false, nil, nil
	case datachannel.ChannelTypePartialReliableRexmit:
		return true, nil, &val
	case datachannel.ChannelTypePartialReliableRexmitUnordered:
		return false, nil, &val
	case datachannel.ChannelTypePartialReliableTimed:
		return true, &val, nil
	case datachannel.ChannelTypePartialReliableTimedUnordered:
		return false, &val, nil
	default:
		return true, nil, nil
	}
}

func channelTypeFor(ordered bool, maxPacketLifeTime, maxRetransmits *uint16) datachannel.ChannelType {
	switch {
	case maxRetransmits != nil && ordered:
		return datachannel.ChannelTypePartialReliableRexmit
	case maxRetransmits != nil && !ordered:
		return datachannel.ChannelTypePartialReliableRexmitUnordered
	case maxPacketLifeTime != nil && ordered:
		return datachannel.ChannelTypePartialReliableTimed
	case maxPacketLifeTime != nil && !ordered:
		return datachannel.ChannelTypePartialReliableTimedUnordered
	case !ordered:
		return datachannel.ChannelTypeReliableUnordered
	default:
		return datachannel.ChannelTypeReliable
	}
}

// pumpedConn adapts the send-callback/Feed contract pkg/dtls's pipeConn uses
// into the net.Conn pion/sctp reads and writes against; there is no socket
// underneath, only the DTLS application-data channel.
type pumpedConn struct {
	mu     sync.Mutex
	cond   *sync.Cond
	inbox  [][]byte
	closed bool

	send func([]byte)
}

func newPumpedConn(send func([]byte)) *pumpedConn {
	c := &pumpedConn{send: send}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *pumpedConn) feed(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	cp := append([]byte(nil), b...)
	c.inbox = append(c.inbox, cp)
	c.cond.Signal()
}

func (c *pumpedConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.inbox) == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed && len(c.inbox) == 0 {
		return 0, net.ErrClosed
	}
	pkt := c.inbox[0]
	c.inbox = c.inbox[1:]
	n := copy(b, pkt)
	return n, nil
}

func (c *pumpedConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	c.send(b)
	return len(b), nil
}

func (c *pumpedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	return nil
}

func (c *pumpedConn) LocalAddr() net.Addr              { return pumpedAddr{} }
func (c *pumpedConn) RemoteAddr() net.Addr             { return pumpedAddr{} }
func (c *pumpedConn) SetDeadline(time.Time) error      { return nil }
func (c *pumpedConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pumpedConn) SetWriteDeadline(time.Time) error { return nil }

type pumpedAddr struct{}

func (pumpedAddr) Network() string { return "sctp-over-dtls" }
func (pumpedAddr) String() string  { return "sctp-over-dtls" }
