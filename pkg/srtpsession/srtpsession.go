// Package srtpsession wraps github.com/pion/srtp/v2's Context type with the exact
// encryptRtp/decryptSrtp/encryptRtcp/decryptSrtcp/removeStream contract spec.md §4.4
// asks of the SRTP layer. It deliberately skips srtp.SessionSRTP (which owns a
// net.Conn and a read goroutine per stream): the Transport already has raw, demuxed
// ciphertext in hand by the time it reaches here, and just needs two synchronous
// crypto contexts, one per direction, keyed off the material pkg/dtls exported.
package srtpsession

import (
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v2"
)

// ProfileFromName maps the SRTP protection profile name pkg/dtls negotiates (e.g.
// "AEAD_AES_128_GCM") to the srtp.ProtectionProfile the crypto context needs.
func ProfileFromName(name string) srtp.ProtectionProfile {
	switch strings.ToUpper(name) {
	case "AEAD_AES_128_GCM":
		return srtp.ProtectionProfileAeadAes128Gcm
	case "AEAD_AES_256_GCM":
		return srtp.ProtectionProfileAeadAes256Gcm
	case "AES_CM_128_HMAC_SHA1_32":
		return srtp.ProtectionProfileAes128CmHmacSha1_32
	default:
		return srtp.ProtectionProfileAes128CmHmacSha1_80
	}
}

// Session holds the send and receive SRTP/SRTCP crypto contexts for one transport.
// Unlike the DTLS and ICE-lite state machines it owns no lifecycle of its own: it's
// created once the DTLS handshake delivers keying material and discarded when the
// transport closes.
type Session struct {
	mu sync.Mutex

	log logr.Logger

	sendCtx *srtp.Context
	recvCtx *srtp.Context
}

// New builds a Session from the four keying-material slices pkg/dtls's
// OnDtlsTransportConnected callback hands the owning Transport.
func New(log logr.Logger, profile srtp.ProtectionProfile, localKey, localSalt, remoteKey, remoteSalt []byte) (*Session, error) {
	sendCtx, err := srtp.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return nil, err
	}
	recvCtx, err := srtp.CreateContext(remoteKey, remoteSalt, profile)
	if err != nil {
		return nil, err
	}
	return &Session{log: log, sendCtx: sendCtx, recvCtx: recvCtx}, nil
}

// EncryptRtp encrypts one outbound RTP packet in place, appending the SRTP auth tag.
// header must already reflect the packet being sent (SSRC, sequence number rewritten
// for the consuming side if applicable).
func (s *Session) EncryptRtp(dst []byte, plaintext []byte, header *rtp.Header) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCtx.EncryptRTP(dst, plaintext, header)
}

// DecryptSrtp decrypts one inbound SRTP packet. Per spec.md §4.4, a corrupt or
// unauthenticated packet is never surfaced as an error to transport-level logic: the
// caller is expected to log at debug and drop the packet, since SRTP sits directly on
// an unauthenticated UDP socket and tolerating garbage is the only DoS-resistant
// posture.
func (s *Session) DecryptSrtp(dst []byte, ciphertext []byte) ([]byte, *rtp.Header, error) {
	header := &rtp.Header{}
	if err := header.Unmarshal(ciphertext); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	plaintext, err := s.recvCtx.DecryptRTP(dst, ciphertext, header)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, header, nil
}

// EncryptRtcp encrypts one outbound compound RTCP packet.
func (s *Session) EncryptRtcp(dst []byte, decrypted []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCtx.EncryptRTCP(dst, decrypted, nil)
}

// DecryptSrtcp decrypts one inbound compound RTCP packet, returning the SRTCP auth
// failure silently dropped the same way DecryptSrtp does.
func (s *Session) DecryptSrtcp(dst []byte, encrypted []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvCtx.DecryptRTCP(dst, encrypted, nil)
}

// RemoveStream forgets the rolling replay/ROC state kept for ssrc on both directions,
// called when a Producer/Consumer's RtpStream for that SSRC is closed so state doesn't
// leak across SSRC reuse within the same transport's lifetime.
func (s *Session) RemoveStream(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCtx.RemoveSSRC(ssrc)
	s.recvCtx.RemoveSSRC(ssrc)
}
