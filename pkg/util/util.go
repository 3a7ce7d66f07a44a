// Package util collects the small endian-safe and time-conversion helpers that the rest of
// the worker leans on: NTP<->millisecond conversion for RTCP sender reports, sequence-number
// wrap handling, and IP-address normalization for ICE candidates.
package util

import (
	"net"
	"time"
)

// NtpEpochOffset is the number of seconds between the NTP epoch (1900-01-01) and the Unix
// epoch (1970-01-01).
const NtpEpochOffset = 2208988800

// NtpFromTime converts a wall-clock time into a 64-bit NTP timestamp (32.32 fixed point)
// as carried in RTCP sender reports.
func NtpFromTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + NtpEpochOffset
	frac := uint64(float64(t.Nanosecond()) * (1 << 32) / 1e9)
	return secs<<32 | frac
}

// TimeFromNtp converts a 64-bit NTP timestamp back into a wall-clock time.
func TimeFromNtp(ntp uint64) time.Time {
	secs := int64(ntp>>32) - NtpEpochOffset
	frac := ntp & 0xffffffff
	nanos := int64(float64(frac) * 1e9 / (1 << 32))
	return time.Unix(secs, nanos).UTC()
}

// SeqDiff returns the signed distance from b to a on a wrapping 16-bit sequence space,
// i.e. how far ahead a is of b (negative if a is behind).
func SeqDiff(a, b uint16) int16 {
	return int16(a - b)
}

// IsSeqNewer reports whether a is later than b in a wrapping 16-bit sequence space.
func IsSeqNewer(a, b uint16) bool {
	return SeqDiff(a, b) > 0
}

// IsTimestampWrapAround detects a 32-bit RTP timestamp wraparound between two
// consecutive observations.
func IsTimestampWrapAround(timestamp1, timestamp2 uint32) bool {
	return timestamp1&0xC0000000 == 0 && timestamp2&0xC0000000 == 0xC0000000
}

// IsLaterTimestamp reports whether timestamp1 is later than timestamp2, accounting for
// 32-bit wraparound.
func IsLaterTimestamp(timestamp1, timestamp2 uint32) bool {
	if timestamp1 == timestamp2 {
		return false
	}
	if IsTimestampWrapAround(timestamp2, timestamp1) {
		return false
	}
	if IsTimestampWrapAround(timestamp1, timestamp2) {
		return true
	}
	if timestamp1 > timestamp2 {
		return true
	}
	return false
}

// NormalizeIP returns the canonical form of an IP, preferring the 4-byte form for
// IPv4-mapped addresses so tuple hashing and STUN XOR-MAPPED-ADDRESS encoding agree.
func NormalizeIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// JitterBuffered is a float64 running estimate (1/16 gain) of RFC 3550 interarrival jitter.
type JitterBuffered struct {
	value float64
}

// Update folds a new interarrival delta (in RTP timebase units) into the running estimate.
func (j *JitterBuffered) Update(delta float64) {
	j.value += (delta - j.value) / 16
}

// Get returns the current jitter estimate, truncated like RFC 3550 mandates.
func (j *JitterBuffered) Get() uint32 {
	if j.value < 0 {
		return 0
	}
	return uint32(j.value)
}
