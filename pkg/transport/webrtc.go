package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/datachannel"
	pionice "github.com/pion/ice/v2"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	pionstun "github.com/pion/stun"

	"github.com/ionworker/worker/pkg/dtls"
	"github.com/ionworker/worker/pkg/ice"
	"github.com/ionworker/worker/pkg/sctp"
	"github.com/ionworker/worker/pkg/srtpsession"
	"github.com/ionworker/worker/pkg/stun"
)

// ErrNotConnected is returned by Send when no SRTP session exists yet (DTLS hasn't
// completed).
var ErrNotConnected = errors.New("transport: dtls not connected")

// Socket abstracts the one UDP connection (own-socket WebRtcTransport) or the
// WebRtcServer's shared socket this Transport sends through; WriteTo lets the same
// WebRtcTransport code path serve both ownership models (spec.md §3:
// "owns either its own UDP/TCP sockets or a reference to a WebRtcServer").
type Socket interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Listener receives media emitted by the Transport after SRTP decryption
// (eventually routed to a Producer) and DataChannel-layer events; narrow enough to
// be implemented by a Router without pulling in transport internals.
type Listener interface {
	OnTransportReceiveRtp(t *WebRtcTransport, pkt []byte)
	OnTransportReceiveRtcp(t *WebRtcTransport, packets []rtcp.Packet)
	OnTransportIceStateChange(t *WebRtcTransport, state ice.State)
	OnTransportClose(t *WebRtcTransport)
}

// TupleListener is the narrow interface a WebRtcServer implements to keep its
// ufrag/tuple demux table in sync with this Transport's IceServer, per spec.md
// §4.10 ("WebRtcTransports register their ufrag when their IceServer is created
// and every new tuple as it becomes valid").
type TupleListener interface {
	OnTransportTupleAdded(t *WebRtcTransport, tuple ice.Tuple)
	OnTransportTupleRemoved(t *WebRtcTransport, tuple ice.Tuple)
}

// DataListener receives SctpAssociation lifecycle events: a peer opening a new
// DataChannel stream (a DataProducer, from the worker's perspective) and the
// association closing. Narrow enough for a Router to implement alongside
// Listener without pulling in pkg/sctp internals.
type DataListener interface {
	OnTransportSctpConnected(t *WebRtcTransport)
	OnTransportSctpDataChannelOpen(t *WebRtcTransport, dc *datachannel.DataChannel, streamID uint16, label, protocol string, ordered bool, maxPacketLifeTime, maxRetransmits *uint16)
	OnTransportSctpClosed(t *WebRtcTransport)
}

// WebRtcTransport is the ICE-lite + DTLS-SRTP Transport variant spec.md §3/§4.2-4.4
// describe: one IceServer, one DtlsTransport, and the inbound/outbound SrtpSessions
// built once the handshake completes.
type WebRtcTransport struct {
	Base

	mu sync.Mutex

	log           logr.Logger
	listener      Listener
	tupleListener TupleListener
	dataListener  DataListener
	socket        Socket

	iceServer *ice.Server
	dtlsTr    *dtls.Transport
	srtp      *srtpsession.Session
	sctpAssoc *sctp.Association

	dtlsRole dtls.Role
}

// New creates a WebRtcTransport bound to socket (its own UDP conn, or a
// WebRtcServer's shared one), with a freshly generated ICE-lite ufrag/password and
// a DTLS transport seeded from the process-wide certificate bundle. A SctpAssociation
// is started lazily on DTLS connect, so Close tearing down the DTLS side also tears
// down any running association via OnDtlsTransportClosed.
func New(id string, socket Socket, certs *dtls.Certificates, role dtls.Role, log logr.Logger, listener Listener) (*WebRtcTransport, error) {
	t := &WebRtcTransport{
		Base:     NewBase(id),
		log:      log,
		listener: listener,
		socket:   socket,
		dtlsRole: role,
	}

	iceServer, err := ice.NewServer(log, t)
	if err != nil {
		return nil, err
	}
	t.iceServer = iceServer
	t.dtlsTr = dtls.NewTransport(log, certs, t)
	return t, nil
}

// UsernameFragment/Password expose the ICE-lite credentials for the iceParameters
// response (spec.md scenario S2/S3).
func (t *WebRtcTransport) UsernameFragment() string { return t.iceServer.UsernameFragment() }
func (t *WebRtcTransport) Password() string         { return t.iceServer.Password() }

// Fingerprints exposes the local DTLS certificate's fingerprints.
func (t *WebRtcTransport) Fingerprints() []dtls.Fingerprint { return t.dtlsTr.Fingerprints() }

// SetRemoteFingerprint and Connect start the DTLS side once the controller's
// connect() call arrives with the remote's dtlsParameters.
func (t *WebRtcTransport) SetRemoteFingerprint(algorithm, value string) error {
	return t.dtlsTr.SetRemoteFingerprint(algorithm, value)
}

func (t *WebRtcTransport) Connect(local, remote net.Addr) error {
	return t.dtlsTr.Run(t.dtlsRole, local, remote)
}

// ConnectSelectedTuple starts the DTLS handshake over whichever tuple ICE has
// nominated so far, for the transport.connect control method which carries a
// remote dtlsParameters but no address -- mediasoup's worker always DTLS-connects
// over the currently selected ICE tuple, never an address the controller names
// directly. Returns ErrNotConnected if ICE hasn't nominated one yet.
func (t *WebRtcTransport) ConnectSelectedTuple() error {
	tuple, ok := t.iceServer.SelectedTuple()
	if !ok {
		return ErrNotConnected
	}
	return t.Connect(tuple.LocalAddr, tuple.RemoteAddr)
}

// ReceivePacket classifies and processes one datagram arriving from remoteAddr,
// per spec.md §4.10's WebRtcServer demux contract applied at the per-transport
// level: STUN goes to the IceServer, everything else to DTLS/SRTP based on the
// first byte (RFC 7983 content-type multiplexing: 0-3 STUN, 20-63 DTLS, 128-191
// SRTP/SRTCP).
func (t *WebRtcTransport) ReceivePacket(pkt []byte, localAddr, remoteAddr net.Addr) {
	t.RecordReceived(len(pkt))

	if len(pkt) == 0 {
		return
	}

	if stun.IsStunMessage(pkt) {
		t.handleStun(pkt, localAddr, remoteAddr)
		return
	}

	b0 := pkt[0]
	switch {
	case b0 >= 20 && b0 <= 63:
		t.dtlsTr.ProcessDtlsData(pkt)
	case b0 >= 128 && b0 <= 191:
		t.handleSrtp(pkt)
	default:
		// Unrecognized content type: drop silently (spec.md §7 network/crypto drop).
	}
}

func (t *WebRtcTransport) handleStun(pkt []byte, localAddr, remoteAddr net.Addr) {
	req, err := stun.ParseBindingRequest(pkt)
	if err != nil {
		t.log.V(1).Info("dropping malformed stun", "error", err.Error())
		return
	}
	if req.LocalUfrag != t.iceServer.UsernameFragment() {
		resp, _ := stun.BuildErrorResponse(req.Message.TransactionID, stun.ErrBadRequest)
		t.sendStun(resp, remoteAddr)
		return
	}
	if !stun.VerifyIntegrity(req.Message, t.iceServer.Password()) {
		resp, _ := stun.BuildErrorResponse(req.Message.TransactionID, stun.ErrUnauthorized)
		t.sendStun(resp, remoteAddr)
		return
	}

	udpAddr, ok := remoteAddr.(*net.UDPAddr)
	if !ok {
		return
	}
	resp, err := stun.BuildSuccessResponse(req.Message.TransactionID, udpAddr.IP, udpAddr.Port, t.iceServer.Password())
	if err != nil {
		return
	}
	t.sendStun(resp, remoteAddr)

	tuple := ice.Tuple{Protocol: pionice.NetworkTypeUDP4, LocalAddr: localAddr, RemoteAddr: remoteAddr}
	t.iceServer.OnValidBinding(tuple, req.UseCandidate)
}

func (t *WebRtcTransport) sendStun(m *pionstun.Message, addr net.Addr) {
	if m == nil {
		return
	}
	n, err := t.socket.WriteTo(m.Raw, addr)
	if err != nil {
		t.log.V(1).Info("failed to send stun response", "error", err.Error())
		return
	}
	t.RecordSent(n)
}

func (t *WebRtcTransport) handleSrtp(pkt []byte) {
	t.mu.Lock()
	session := t.srtp
	t.mu.Unlock()
	if session == nil {
		return
	}

	if pkt[1] >= 200 && pkt[1] <= 204 {
		decrypted, err := session.DecryptSrtcp(nil, pkt)
		if err != nil {
			t.log.V(1).Info("dropping srtcp auth failure", "error", err.Error())
			return
		}
		packets, err := rtcp.Unmarshal(decrypted)
		if err != nil {
			return
		}
		t.listener.OnTransportReceiveRtcp(t, packets)
		return
	}

	decrypted, _, err := session.DecryptSrtp(nil, pkt)
	if err != nil {
		t.log.V(1).Info("dropping srtp auth failure", "error", err.Error())
		return
	}
	t.listener.OnTransportReceiveRtp(t, decrypted)
}

// SendRtp encrypts and sends one RTP packet to the selected ICE tuple.
func (t *WebRtcTransport) SendRtp(header *rtp.Header, payload []byte) error {
	t.mu.Lock()
	session := t.srtp
	t.mu.Unlock()
	if session == nil {
		return ErrNotConnected
	}

	raw := make([]byte, header.MarshalSize()+len(payload))
	n, err := header.MarshalTo(raw)
	if err != nil {
		return err
	}
	copy(raw[n:], payload)

	encrypted, err := session.EncryptRtp(nil, raw[:n+len(payload)], header)
	if err != nil {
		return err
	}
	return t.sendToSelectedTuple(encrypted)
}

// SendRtcp encrypts and sends one compound RTCP packet.
func (t *WebRtcTransport) SendRtcp(packets []rtcp.Packet) error {
	t.mu.Lock()
	session := t.srtp
	t.mu.Unlock()
	if session == nil {
		return ErrNotConnected
	}
	raw, err := rtcp.Marshal(packets)
	if err != nil {
		return err
	}
	encrypted, err := session.EncryptRtcp(nil, raw)
	if err != nil {
		return err
	}
	return t.sendToSelectedTuple(encrypted)
}

func (t *WebRtcTransport) sendToSelectedTuple(b []byte) error {
	tuple, ok := t.iceServer.SelectedTuple()
	if !ok {
		return errors.New("transport: no selected ice tuple")
	}
	n, err := t.socket.WriteTo(b, tuple.RemoteAddr)
	if err != nil {
		return err
	}
	t.RecordSent(n)
	return nil
}

// SetTupleListener registers the WebRtcServer this Transport borrows its socket
// from, if any (own-socket Transports leave this nil).
func (t *WebRtcTransport) SetTupleListener(l TupleListener) {
	t.mu.Lock()
	t.tupleListener = l
	t.mu.Unlock()
}

// SetDataListener registers the owner (typically the Router) that receives
// this Transport's DataChannel lifecycle events, analogous to SetTupleListener.
func (t *WebRtcTransport) SetDataListener(l DataListener) {
	t.mu.Lock()
	t.dataListener = l
	t.mu.Unlock()
}

// OnIceServerTupleAdded/Removed/SelectedTuple/StateChange implement ice.Listener.
func (t *WebRtcTransport) OnIceServerTupleAdded(tuple ice.Tuple) {
	t.mu.Lock()
	l := t.tupleListener
	t.mu.Unlock()
	if l != nil {
		l.OnTransportTupleAdded(t, tuple)
	}
}

func (t *WebRtcTransport) OnIceServerTupleRemoved(tuple ice.Tuple) {
	t.mu.Lock()
	l := t.tupleListener
	t.mu.Unlock()
	if l != nil {
		l.OnTransportTupleRemoved(t, tuple)
	}
}

func (t *WebRtcTransport) OnIceServerSelectedTuple(ice.Tuple) {}
func (t *WebRtcTransport) OnIceServerStateChange(state ice.State) {
	t.log.V(0).Info("ice state change", "transport", t.ID(), "state", state.String())
	t.listener.OnTransportIceStateChange(t, state)
}

// OnDtlsTransportConnecting/Connected/Failed/Closed/SendData/ReceiveData
// implement dtls.Listener: Connected builds the SrtpSession and starts an
// SctpAssociation once keying material is available, ReceiveData feeds it.
func (t *WebRtcTransport) OnDtlsTransportConnecting() {}

func (t *WebRtcTransport) OnDtlsTransportConnected(srtpProfile string, localKey, localSalt, remoteKey, remoteSalt []byte) {
	profile := srtpsession.ProfileFromName(srtpProfile)
	session, err := srtpsession.New(t.log, profile, localKey, localSalt, remoteKey, remoteSalt)
	if err != nil {
		t.log.V(0).Info("failed to build srtp session", "error", err.Error())
		return
	}

	role := sctp.RoleServer
	if t.dtlsRole == dtls.RoleClient {
		role = sctp.RoleClient
	}
	assoc := sctp.New(t.log, role, t.dtlsTr.SendApplicationData, t)

	t.mu.Lock()
	t.srtp = session
	t.sctpAssoc = assoc
	t.mu.Unlock()
}

func (t *WebRtcTransport) OnDtlsTransportFailed() {
	t.mu.Lock()
	t.srtp = nil
	assoc := t.sctpAssoc
	t.sctpAssoc = nil
	t.mu.Unlock()
	if assoc != nil {
		_ = assoc.Close()
	}
}

func (t *WebRtcTransport) OnDtlsTransportClosed() {
	t.mu.Lock()
	t.srtp = nil
	assoc := t.sctpAssoc
	t.sctpAssoc = nil
	t.mu.Unlock()
	if assoc != nil {
		_ = assoc.Close()
	}
	t.listener.OnTransportClose(t)
}

func (t *WebRtcTransport) OnDtlsTransportSendData(b []byte) {
	if err := t.sendToSelectedTuple(b); err != nil {
		t.log.V(1).Info("failed to send dtls data", "error", err.Error())
	}
}

// OnDtlsTransportReceiveData implements dtls.Listener, feeding decrypted
// application-data records (SCTP packets) to the running association.
func (t *WebRtcTransport) OnDtlsTransportReceiveData(b []byte) {
	t.mu.Lock()
	assoc := t.sctpAssoc
	t.mu.Unlock()
	if assoc != nil {
		assoc.Feed(b)
	}
}

// OnSctpAssociationConnected/DataChannelOpen/Closed implement sctp.Listener,
// forwarding to this Transport's DataListener (typically the Router).
func (t *WebRtcTransport) OnSctpAssociationConnected(*sctp.Association) {
	t.mu.Lock()
	l := t.dataListener
	t.mu.Unlock()
	if l != nil {
		l.OnTransportSctpConnected(t)
	}
}

func (t *WebRtcTransport) OnSctpAssociationDataChannelOpen(_ *sctp.Association, dc *datachannel.DataChannel, streamID uint16, label, protocol string, ordered bool, maxPacketLifeTime, maxRetransmits *uint16) {
	t.mu.Lock()
	l := t.dataListener
	t.mu.Unlock()
	if l != nil {
		l.OnTransportSctpDataChannelOpen(t, dc, streamID, label, protocol, ordered, maxPacketLifeTime, maxRetransmits)
	}
}

func (t *WebRtcTransport) OnSctpAssociationClosed(*sctp.Association) {
	t.mu.Lock()
	l := t.dataListener
	t.mu.Unlock()
	if l != nil {
		l.OnTransportSctpClosed(t)
	}
}

// OpenDataChannel dials a new outbound DataChannel stream over this
// Transport's SctpAssociation, backing a DataConsumer.
func (t *WebRtcTransport) OpenDataChannel(streamID uint16, label, protocol string, ordered bool, maxPacketLifeTime, maxRetransmits *uint16) (*datachannel.DataChannel, error) {
	t.mu.Lock()
	assoc := t.sctpAssoc
	t.mu.Unlock()
	if assoc == nil {
		return nil, ErrNotConnected
	}
	return assoc.OpenDataChannel(streamID, label, protocol, ordered, maxPacketLifeTime, maxRetransmits)
}

// Kind identifies this as the WebRTC Transport variant.
func (t *WebRtcTransport) Kind() Kind { return KindWebRtc }

// Tick drives the ICE liveness timeout (spec.md §4.2) off the clock sample the
// caller reads once per tick. It sends no RTCP: this Transport schedules no sender
// or receiver reports.
func (t *WebRtcTransport) Tick(now time.Time) {
	t.iceServer.CheckTimeouts(now)
}

// Close closes the DTLS transport, which drops the SRTP session and any SCTP
// association through OnDtlsTransportClosed; the IceServer is not stopped.
// Idempotent.
func (t *WebRtcTransport) Close() error {
	if !t.MarkClosed() {
		return nil
	}
	return t.dtlsTr.Close()
}
