// Package channel implements the control channel of spec.md §4.1: a duplex pair of
// length-prefixed byte streams carrying Request/Response/Notification messages between
// the controller and this worker. Structured the way the teacher structures its other
// owning types (pkg/producer, pkg/router): a plain struct guarded by a mutex, a
// registration table of callbacks, an explicit Close — generalized here from an
// in-process listener interface to an out-of-process wire protocol, since the control
// channel is the one spec.md component that talks to something outside the process.
//
// Framing is hand-rolled with encoding/binary rather than a schema-compiled codec: no
// FlatBuffers/protobuf toolchain is available to generate one, and no third-party pack
// repo depends on such a toolchain for IPC framing (see DESIGN.md). The wire layout
// (u32 LE length prefix, then a class byte, then length-prefixed fields) is this
// package's own binary encoding of spec.md §4.1/§6's frame; BinaryCodec is the only
// implementation wired in, JSONCodec is a declared-but-unimplemented stub per the open
// compatibility question spec.md §9 leaves unresolved.
package channel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize is the 4 MiB payload ceiling spec.md §4.1 mandates; a frame whose length
// prefix exceeds this tears the connection down rather than being read.
const MaxFrameSize = 4 * 1024 * 1024

// ErrFrameTooLarge is returned by Reader.ReadFrame when a length prefix exceeds
// MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("channel: frame exceeds %d byte ceiling", MaxFrameSize)

// ErrClosed is returned by operations attempted on a Channel after Close.
var ErrClosed = errors.New("channel: closed")

// Reader pulls length-prefixed frames off a byte stream, tolerating partial reads:
// ReadFrame keeps blocking on an incomplete length prefix or payload until the rest
// arrives rather than treating it as an error, matching spec.md §4.1's "reader
// tolerates partial frames".
// bufio.Reader already preserves unconsumed bytes at its buffer head across short reads,
// so this wraps one instead of hand-rolling that bookkeeping.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for frame-at-a-time reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadFrame blocks until one full frame has arrived, returning its payload (the bytes
// after the length prefix). The returned slice is owned by the caller.
func (r *Reader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Writer serializes frames with their u32 LE length prefix onto a byte stream. Writes
// are serialized with a mutex since Channel's dispatch loop (writing Responses) and
// Notify callers on other goroutines write concurrently.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w for frame-at-a-time writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one length-prefixed frame. payload must not exceed MaxFrameSize.
func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}
