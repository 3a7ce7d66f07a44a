// Package rtpstream builds on pkg/buffer to provide the two stream-shaped views
// spec.md §3/§4.6-4.8 need on top of it: RtpStreamRecv, the Producer-side receive
// state (loss/score/NACK/SR pairing), and RtpStreamSend, the Consumer-side outgoing
// rewrite state (SSRC remap, sequence/timestamp offsetting, RTX).
package rtpstream

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

// Well-known header extension URNs, keyed the way a negotiated extension map
// arrives from the controller (RID/MID/abs-send-time/transport-wide-cc).
const (
	ExtMid              = "urn:ietf:params:rtp-hdrext:sdes:mid"
	ExtRid              = "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id"
	ExtRRid             = "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id"
	ExtAbsSendTime      = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	ExtTransportWideCC  = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	ExtAudioLevel       = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	ExtVideoOrientation = "urn:3gpp:video-orientation"
)

// ExtensionMap translates the negotiated URNs above into the one-byte/two-byte
// extension ids a given Producer or Consumer actually uses on the wire.
type ExtensionMap struct {
	Mid              uint8
	Rid              uint8
	RRid             uint8
	AbsSendTime      uint8
	TransportWideCC  uint8
	AudioLevel       uint8
	VideoOrientation uint8
}

// Mid reads the MID extension as a string, or "" if absent.
func Mid(h *rtp.Header, ids ExtensionMap) string {
	if ids.Mid == 0 {
		return ""
	}
	b := h.GetExtension(ids.Mid)
	return string(b)
}

// Rid reads the RID extension as a string, or "" if absent. The repaired-RID
// (RRid) extension is not read.
func Rid(h *rtp.Header, ids ExtensionMap) string {
	if ids.Rid == 0 {
		return ""
	}
	b := h.GetExtension(ids.Rid)
	return string(b)
}

// AudioLevel reads the SSRC-audio-level extension (RFC 6464): dBov 0-127 and the
// voice-activity flag, or ok=false if the extension is absent.
func AudioLevel(h *rtp.Header, ids ExtensionMap) (level uint8, voice bool, ok bool) {
	if ids.AudioLevel == 0 {
		return 0, false, false
	}
	b := h.GetExtension(ids.AudioLevel)
	if len(b) < 1 {
		return 0, false, false
	}
	return b[0] & 0x7f, b[0]&0x80 != 0, true
}

// UpdateMid rewrites the MID extension in place. Per spec.md §4.6, setting an
// extension that doesn't exist on this packet fails gracefully by doing nothing
// rather than growing the header to add one.
func UpdateMid(h *rtp.Header, ids ExtensionMap, mid string) {
	if ids.Mid == 0 || h.GetExtension(ids.Mid) == nil {
		return
	}
	_ = h.SetExtension(ids.Mid, []byte(mid))
}

// UpdateAbsSendTime rewrites the 24-bit abs-send-time extension to reflect ntpNow,
// the standard Q6.18 fixed-point seconds-since-epoch encoding.
func UpdateAbsSendTime(h *rtp.Header, ids ExtensionMap, ntpNow uint64) {
	if ids.AbsSendTime == 0 || h.GetExtension(ids.AbsSendTime) == nil {
		return
	}
	abs := uint32(ntpNow>>14) & 0x00ffffff
	buf := []byte{byte(abs >> 16), byte(abs >> 8), byte(abs)}
	_ = h.SetExtension(ids.AbsSendTime, buf)
}

// UpdateTransportWideCC01 rewrites the transport-wide sequence number used to pace
// draft-holmer-rmcat feedback, assigned by the Transport at send time.
func UpdateTransportWideCC01(h *rtp.Header, ids ExtensionMap, sn uint16) {
	if ids.TransportWideCC == 0 || h.GetExtension(ids.TransportWideCC) == nil {
		return
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, sn)
	_ = h.SetExtension(ids.TransportWideCC, buf)
}

// TransportWideCCSeq reads the transport-wide sequence number a sender stamped onto
// an incoming packet, for the receiving side's own feedback generation (pkg/twcc).
func TransportWideCCSeq(h *rtp.Header, ids ExtensionMap) (uint16, bool) {
	if ids.TransportWideCC == 0 {
		return 0, false
	}
	b := h.GetExtension(ids.TransportWideCC)
	if len(b) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}
