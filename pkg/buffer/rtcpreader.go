// Package buffer's RTCPReader receives the RTCP half of a stream and fans it out to
// whatever owns the stream (normally a Router reading sender reports into a Buffer),
// decoupling RTCP delivery from the transport that decrypted it.
package buffer

import (
	"io"
	"sync/atomic"
)

// RTCPReader is an io.ReadWriteCloser whose Write side feeds arriving RTCP packets to a
// registered callback instead of buffering them; Read is a stub so it still satisfies
// io.ReadWriteCloser for callers that need the full interface.
type RTCPReader struct {
	ssrc     uint32
	closed   atomicBool
	onPacket atomic.Value //func([]byte)
	onClose  func()
}

// NewRTCPReader creates a reader for the RTCP stream identified by ssrc.
func NewRTCPReader(ssrc uint32) *RTCPReader {
	return &RTCPReader{ssrc: ssrc}
}

func (r *RTCPReader) Write(p []byte) (n int, err error) {
	if r.closed.get() {
		err = io.EOF
		return
	}
	if f, ok := r.onPacket.Load().(func([]byte)); ok {
		f(p)
	}
	return
}

func (r *RTCPReader) OnClose(fn func()) {
	r.onClose = fn
}

func (r *RTCPReader) Close() error {
	r.closed.set(true)
	r.onClose()
	return nil
}

func (r *RTCPReader) OnPacket(f func([]byte)) {
	r.onPacket.Store(f)
}

func (r *RTCPReader) Read(_ []byte) (n int, err error) { return }
