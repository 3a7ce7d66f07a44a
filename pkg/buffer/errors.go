package buffer

import "errors"

// errPacketNotFound: sn fell out of the bucket window or never arrived (Bucket.GetPacket).
// errBufferTooSmall: caller's buf is smaller than the stored packet (Bucket.GetPacket).
// errPacketTooOld: sn is further behind headSN than the bucket can hold (Bucket.set).
// errRTXPacket: sn already has a packet stored; treated as a no-op duplicate (Bucket.set).
var (
	errPacketNotFound = errors.New("packet not found in cache")
	errBufferTooSmall = errors.New("buffer too small")
	errPacketTooOld   = errors.New("received packet too old")
	errRTXPacket      = errors.New("packet already received")
)
