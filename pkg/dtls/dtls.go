// Package dtls implements the DtlsTransport component of spec.md §4.3: a DTLS 1.0/1.2
// client-or-server handshake run over a pumped byte stream (no live socket), ending in
// exported SRTP-DTLS keying material handed to the owning Transport.
package dtls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/dtls/v2"

	pionlogging "github.com/ionworker/worker/pkg/logging"
)

// Role is the DTLS handshake role: auto defers to the SDP setup attribute, client and
// server pin it explicitly (spec.md §3's {auto, client, server}).
type Role int

const (
	RoleAuto Role = iota
	RoleClient
	RoleServer
)

// State mirrors spec.md §4.3's {new, connecting, connected, failed, closed}.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "new"
	}
}

var (
	// ErrAlreadyClosed reports a transition attempted on a closed transport;
	// spec.md §3: "once closed, no state transitions".
	ErrAlreadyClosed = errors.New("dtls: transport already closed")
	// ErrFingerprintMismatch is returned when the peer certificate's digest under
	// the negotiated algorithm doesn't match the SDP-advertised fingerprint.
	ErrFingerprintMismatch = errors.New("dtls: remote fingerprint mismatch")
)

// handshakeTimeoutCap bounds the whole handshake: Run hands pion/dtls a connect
// context that expires after this long, and a handshake that has not finished by then
// fails the transport. Flight retransmission timing inside that window is pion/dtls's own.
const handshakeTimeoutCap = 30 * time.Second

// Fingerprint is one algorithm/value pair as published in iceParameters responses.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// Certificates holds the process-wide self-signed (or disk-loaded) certificate and its
// precomputed fingerprints for every algorithm sha-1..sha-512, shared by every
// DtlsTransport per spec.md §4.3/§5 ("initialized once at process start, immutable
// thereafter").
type Certificates struct {
	tlsCert     tls.Certificate
	Fingerprints []Fingerprint
}

var (
	globalOnce  sync.Once
	globalCerts *Certificates
	globalErr   error
)

// GlobalCertificates returns the process-wide certificate bundle, generating a
// self-signed ECDSA P-256 certificate on first call.
func GlobalCertificates() (*Certificates, error) {
	globalOnce.Do(func() {
		globalCerts, globalErr = generateSelfSigned()
	})
	return globalCerts, globalErr
}

// LoadCertificates loads a PEM certificate/key pair from disk instead of
// self-signing, matching spec.md §6's --dtlsCertificateFile/--dtlsPrivateKeyFile pair.
func LoadCertificates(certFile, keyFile string) (*Certificates, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return certsFromTLS(cert)
}

func generateSelfSigned() (*Certificates, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "ionworker"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return certsFromTLS(cert)
}

func certsFromTLS(cert tls.Certificate) (*Certificates, error) {
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, err
	}
	fps := make([]Fingerprint, 0, len(fingerprintAlgorithms))
	for _, name := range fingerprintAlgorithms {
		digest, err := hashDigest(leaf.Raw, name)
		if err != nil {
			return nil, err
		}
		fps = append(fps, Fingerprint{Algorithm: name, Value: formatFingerprint(digest)})
	}
	return &Certificates{tlsCert: cert, Fingerprints: fps}, nil
}

// fingerprintAlgorithms lists every algorithm advertised in iceParameters, in the
// fixed order spec.md scenario S2 expects ("a DTLS fingerprint list of length 5").
var fingerprintAlgorithms = []string{"sha-1", "sha-224", "sha-256", "sha-384", "sha-512"}

// hashDigest computes b's digest under the named algorithm, used both to publish the
// local certificate's fingerprints and to verify a peer's against an advertised value.
func hashDigest(b []byte, algorithm string) ([]byte, error) {
	switch strings.ToLower(algorithm) {
	case "sha-1":
		s := sha1.Sum(b)
		return s[:], nil
	case "sha-224":
		s := sha256.Sum224(b)
		return s[:], nil
	case "sha-256":
		s := sha256.Sum256(b)
		return s[:], nil
	case "sha-384":
		s := sha512.Sum384(b)
		return s[:], nil
	case "sha-512":
		s := sha512.Sum512(b)
		return s[:], nil
	default:
		return nil, errors.New("dtls: unsupported fingerprint algorithm " + algorithm)
	}
}

func formatFingerprint(digest []byte) string {
	parts := make([]string, len(digest))
	for i, b := range digest {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}

// Listener receives DtlsTransport lifecycle events.
type Listener interface {
	OnDtlsTransportConnecting()
	OnDtlsTransportConnected(srtpProfile string, localKey, localSalt, remoteKey, remoteSalt []byte)
	OnDtlsTransportFailed()
	OnDtlsTransportClosed()
	// OnDtlsTransportSendData is the BIO-pump egress hook: ciphertext produced by
	// the handshake or by sendApplicationData, to be written to the wire.
	OnDtlsTransportSendData(b []byte)
	// OnDtlsTransportReceiveData delivers one decrypted application-data record
	// read off the connected association (SCTP traffic riding over DTLS per
	// spec.md §4.7).
	OnDtlsTransportReceiveData(b []byte)
}

// Transport runs a single DTLS association against one remote over pumped bytes.
type Transport struct {
	mu sync.Mutex

	log   logr.Logger
	certs *Certificates

	state             State
	role              Role
	remoteFingerprint *Fingerprint

	conn *dtls.Conn
	pipe *pipeConn

	handshakeBackoff time.Duration

	listener Listener
}

// NewTransport creates a Transport bound to listener and seeded with the process-wide
// certificate bundle.
func NewTransport(log logr.Logger, certs *Certificates, listener Listener) *Transport {
	return &Transport{
		log:              log,
		certs:            certs,
		listener:         listener,
		handshakeBackoff: time.Second,
	}
}

// Fingerprints exposes the local certificate's fingerprints for the iceParameters
// response (spec.md scenario S2: "a DTLS fingerprint list of length 5").
func (t *Transport) Fingerprints() []Fingerprint {
	return t.certs.Fingerprints
}

// SetRemoteFingerprint records the peer's advertised fingerprint. If the handshake
// has already completed, it's validated immediately against the live connection.
func (t *Transport) SetRemoteFingerprint(algorithm, value string) error {
	t.mu.Lock()
	fp := &Fingerprint{Algorithm: algorithm, Value: strings.ToUpper(value)}
	t.remoteFingerprint = fp
	already := t.state == StateConnected
	conn := t.conn
	t.mu.Unlock()

	if !already {
		return nil
	}
	return t.verifyAgainst(conn, fp)
}

// Run starts the handshake in role against local/remote addressing metadata; actual
// bytes flow through Feed/processDtlsData and the listener's OnDtlsTransportSendData,
// never through a live socket.
func (t *Transport) Run(role Role, local, remote net.Addr) error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	// Per spec.md §9, reset cleanly on every role change rather than patch state.
	t.role = role
	t.state = StateConnecting
	t.pipe = newPipeConn(local, remote, func(b []byte) {
		t.listener.OnDtlsTransportSendData(b)
	})
	pipe := t.pipe
	certs := t.certs
	t.mu.Unlock()

	t.listener.OnDtlsTransportConnecting()

	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{certs.tlsCert},
		InsecureSkipVerify:   true,
		ClientAuth:           dtls.RequireAnyClientCert,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{
			dtls.SRTP_AEAD_AES_128_GCM,
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
		},
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), handshakeTimeoutCap)
		},
	}

	go t.handshake(pipe, role, cfg)
	return nil
}

func (t *Transport) handshake(pipe *pipeConn, role Role, cfg *dtls.Config) {
	var conn *dtls.Conn
	var err error
	if role == RoleServer {
		conn, err = dtls.Server(pipe, cfg)
	} else {
		conn, err = dtls.Client(pipe, cfg)
	}
	if err != nil {
		t.log.V(0).Info("dtls handshake failed", "error", err.Error())
		t.fail()
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := t.completeHandshake(conn); err != nil {
		t.log.V(0).Info("dtls handshake rejected", "error", err.Error())
		t.fail()
	}
}

func (t *Transport) completeHandshake(conn *dtls.Conn) error {
	t.mu.Lock()
	fp := t.remoteFingerprint
	t.mu.Unlock()

	if fp != nil {
		if err := t.verifyAgainst(conn, fp); err != nil {
			return err
		}
	}

	state := conn.ConnectionState()
	profile := state.NegotiatedSRTPProtectionProfile
	keyLen, saltLen := srtpKeyLengths(profile)

	material, err := conn.ExportKeyingMaterial(
		"EXTRACTOR-dtls_srtp", nil, uint(2*(keyLen+saltLen)),
	)
	if err != nil {
		return err
	}

	clientKey := material[:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]

	var localKey, localSalt, remoteKey, remoteSalt []byte
	t.mu.Lock()
	isServer := t.role == RoleServer
	t.mu.Unlock()
	if isServer {
		localKey, localSalt = serverKey, serverSalt
		remoteKey, remoteSalt = clientKey, clientSalt
	} else {
		localKey, localSalt = clientKey, clientSalt
		remoteKey, remoteSalt = serverKey, serverSalt
	}

	t.mu.Lock()
	t.state = StateConnected
	t.mu.Unlock()

	t.listener.OnDtlsTransportConnected(profileName(profile), localKey, localSalt, remoteKey, remoteSalt)
	go t.readApplicationData(conn)
	return nil
}

// readApplicationData pumps decrypted application-data records (SCTP traffic)
// out of conn to the listener until the association closes or errors. DTLS
// carries whole records per Read, so no further framing is needed here.
func (t *Transport) readApplicationData(conn *dtls.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		cp := append([]byte(nil), buf[:n]...)
		t.listener.OnDtlsTransportReceiveData(cp)
	}
}

func (t *Transport) verifyAgainst(conn *dtls.Conn, fp *Fingerprint) error {
	if conn == nil {
		return nil
	}
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return errors.New("dtls: no peer certificate")
	}
	digest, err := digestFingerprint(state.PeerCertificates[0], fp.Algorithm)
	if err != nil {
		return err
	}
	if !strings.EqualFold(digest, fp.Value) {
		t.fail()
		return ErrFingerprintMismatch
	}
	return nil
}

// digestFingerprint hashes der under the named algorithm and formats it the same way
// GlobalCertificates does, so local and remote fingerprints compare byte-for-byte.
func digestFingerprint(der []byte, algorithm string) (string, error) {
	sum, err := hashDigest(der, algorithm)
	if err != nil {
		return "", err
	}
	return formatFingerprint(sum), nil
}

// ProcessDtlsData feeds one datagram of received DTLS ciphertext into the handshake
// pump (spec.md §4.3 processDtlsData).
func (t *Transport) ProcessDtlsData(b []byte) {
	t.mu.Lock()
	pipe := t.pipe
	t.mu.Unlock()
	if pipe != nil {
		pipe.Feed(b)
	}
}

// SendApplicationData writes application data over the DTLS channel (used for SCTP);
// it fails silently pre-connect per spec.md §4.3.
func (t *Transport) SendApplicationData(b []byte) {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()
	if state != StateConnected || conn == nil {
		return
	}
	_, _ = conn.Write(b)
}

// State returns the current DTLS state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) fail() {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = StateFailed
	t.mu.Unlock()
	t.listener.OnDtlsTransportFailed()
}

// Close tears the association down; once closed it never transitions again.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.state = StateClosed
	conn := t.conn
	pipe := t.pipe
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if pipe != nil {
		_ = pipe.Close()
	}
	t.listener.OnDtlsTransportClosed()
	return nil
}

func srtpKeyLengths(profile dtls.SRTPProtectionProfile) (keyLen, saltLen int) {
	switch profile {
	case dtls.SRTP_AEAD_AES_128_GCM:
		return 16, 12
	case dtls.SRTP_AEAD_AES_256_GCM:
		return 32, 12
	default:
		return 16, 14 // SRTP_AES128_CM_HMAC_SHA1_80/32
	}
}

func profileName(profile dtls.SRTPProtectionProfile) string {
	switch profile {
	case dtls.SRTP_AEAD_AES_128_GCM:
		return "AEAD_AES_128_GCM"
	case dtls.SRTP_AEAD_AES_256_GCM:
		return "AEAD_AES_256_GCM"
	case dtls.SRTP_AES128_CM_HMAC_SHA1_32:
		return "AES_CM_128_HMAC_SHA1_32"
	default:
		return "AES_CM_128_HMAC_SHA1_80"
	}
}

// NewFactory wires a logging.Factory for pion/dtls-internal loggers, so handshake
// traces land in the same sink as the rest of the worker.
func NewFactory(base logr.Logger) *pionlogging.Factory {
	return pionlogging.NewFactory(base)
}
