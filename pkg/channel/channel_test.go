package channel

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte("hello")))
	require.NoError(t, w.WriteFrame([]byte{}))
	require.NoError(t, w.WriteFrame([]byte("world")))

	r := NewReader(&buf)
	got, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	got, err = r.ReadFrame()
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)

	_, err = r.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderToleratesPartialFrames(t *testing.T) {
	var full bytes.Buffer
	w := NewWriter(&full)
	require.NoError(t, w.WriteFrame([]byte("partial-tolerant")))

	// Feed the reader's underlying stream one byte at a time via a pipe so ReadFrame
	// must block on io.ReadFull internally rather than ever seeing the whole frame in
	// a single read; this exercises the "preserves unconsumed bytes" contract spec.md
	// §4.1 describes, since bufio.Reader is what supplies it here.
	pr, pw := io.Pipe()
	r := NewReader(pr)
	done := make(chan struct{})
	var got []byte
	var readErr error
	go func() {
		got, readErr = r.ReadFrame()
		close(done)
	}()

	data := full.Bytes()
	for _, b := range data {
		_, err := pw.Write([]byte{b})
		require.NoError(t, err)
	}
	<-done
	require.NoError(t, readErr)
	require.Equal(t, []byte("partial-tolerant"), got)
}

func TestReaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], MaxFrameSize+1)
	buf.Write(lenBuf[:])

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriterRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.WriteFrame(make([]byte, MaxFrameSize+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestBinaryCodecRoundTripsRequest(t *testing.T) {
	var codec BinaryCodec
	req := &Request{ID: 7, Method: "router.createProducer", TargetID: "router-1", Body: []byte{1, 2, 3}}
	payload, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestBinaryCodecRoundTripsOkResponse(t *testing.T) {
	var codec BinaryCodec
	resp := NewOkResponse(9, []byte("ok-body"))
	payload, err := codec.EncodeResponse(resp)
	require.NoError(t, err)

	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, resp, decoded)
}

func TestBinaryCodecRoundTripsErrorResponse(t *testing.T) {
	var codec BinaryCodec
	resp := NewErrorResponse(9, ErrorKindTypeError, "bad enum value")
	payload, err := codec.EncodeResponse(resp)
	require.NoError(t, err)

	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, resp, decoded)
}

func TestBinaryCodecRoundTripsNotification(t *testing.T) {
	var codec BinaryCodec
	n := &Notification{TargetID: "producer-1", Event: "score", Body: []byte{9, 9}}
	payload, err := codec.EncodeNotification(n)
	require.NoError(t, err)

	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, n, decoded)
}

func TestJSONCodecIsUnimplemented(t *testing.T) {
	var codec JSONCodec
	_, err := codec.EncodeRequest(&Request{})
	require.ErrorIs(t, err, ErrNotImplemented)
	_, err = codec.EncodeResponse(&Response{})
	require.ErrorIs(t, err, ErrNotImplemented)
	_, err = codec.EncodeNotification(&Notification{})
	require.ErrorIs(t, err, ErrNotImplemented)
	_, err = codec.Decode([]byte{0})
	require.ErrorIs(t, err, ErrNotImplemented)
}
