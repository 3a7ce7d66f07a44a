// Factory centralizes Buffer and RTCPReader allocation per SSRC for one Transport,
// pooling the underlying byte slices so steady-state RTP forwarding does no allocation.
//
// Video streams get a pool sized for trackingPackets packets; audio streams, which run
// far shorter jitter windows, get a fixed 25-packet pool. Buffer.Close puts a buffer's
// backing array back into the pool it came from.
package buffer

import (
	"sync"

	"github.com/go-logr/logr"
)

// Logger is the package-wide fallback used when a Factory is constructed without one.
var Logger logr.Logger = logr.Discard()

// Factory owns every Buffer and RTCPReader for the SSRCs active on one transport.
type Factory struct {
	sync.RWMutex
	videoPool   *sync.Pool
	audioPool   *sync.Pool
	rtpBuffers  map[uint32]*Buffer
	rtcpReaders map[uint32]*RTCPReader
	logger      logr.Logger
}

// NewBufferFactory returns a Factory whose video pool holds trackingPackets packets.
// A zero logger falls back to the package-wide Logger and also replaces it, so later
// package-level helpers log through the same sink.
func NewBufferFactory(trackingPackets int, logger logr.Logger) *Factory {
	if logger == (logr.Logger{}) {
		logger = Logger
	} else {
		Logger = logger
	}

	return &Factory{
		videoPool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, trackingPackets*maxPktSize)
				return &b
			},
		},
		audioPool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, maxPktSize*25)
				return &b
			},
		},
		rtpBuffers:  make(map[uint32]*Buffer),
		rtcpReaders: make(map[uint32]*RTCPReader),
		logger:      logger,
	}
}

// GetOrNewBuffer returns the Buffer for ssrc, creating and registering one on first use.
func (f *Factory) GetOrNewBuffer(ssrc uint32) *Buffer {
	f.Lock()
	defer f.Unlock()
	if buf, ok := f.rtpBuffers[ssrc]; ok {
		return buf
	}
	buf := NewBuffer(ssrc, f.videoPool, f.audioPool, f.logger)
	f.rtpBuffers[ssrc] = buf
	buf.OnClose(func() {
		f.Lock()
		delete(f.rtpBuffers, ssrc)
		f.Unlock()
	})
	return buf
}

// GetOrNewRTCPReader returns the RTCPReader for ssrc, creating one on first use.
func (f *Factory) GetOrNewRTCPReader(ssrc uint32) *RTCPReader {
	f.Lock()
	defer f.Unlock()
	if reader, ok := f.rtcpReaders[ssrc]; ok {
		return reader
	}
	reader := NewRTCPReader(ssrc)
	f.rtcpReaders[ssrc] = reader
	reader.OnClose(func() {
		f.Lock()
		delete(f.rtcpReaders, ssrc)
		f.Unlock()
	})
	return reader
}

func (f *Factory) GetBufferPair(ssrc uint32) (*Buffer, *RTCPReader) {
	f.RLock()
	defer f.RUnlock()
	return f.rtpBuffers[ssrc], f.rtcpReaders[ssrc]
}

func (f *Factory) GetBuffer(ssrc uint32) *Buffer {
	f.RLock()
	defer f.RUnlock()
	return f.rtpBuffers[ssrc]
}

func (f *Factory) GetRTCPReader(ssrc uint32) *RTCPReader {
	f.RLock()
	defer f.RUnlock()
	return f.rtcpReaders[ssrc]
}
