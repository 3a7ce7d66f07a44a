package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/ionworker/worker/pkg/consumer"
	"github.com/ionworker/worker/pkg/producer"
	"github.com/ionworker/worker/pkg/rtpstream"
)

// paramsReader/paramsWriter give each method handler below a compact binary
// decoding of its Request.Body, in the same encoding/binary spirit as
// pkg/channel's own field helpers. Kept separate rather than reused because
// pkg/channel's writeString/readString/writeBytes/readBytes are unexported --
// this package's method bodies are a worker-level concern, not a channel-framing
// one, so duplicating four small helpers here is cheaper than widening
// pkg/channel's API for a single caller.
var errShortParams = errors.New("worker: request body too short")

type paramsReader struct {
	r *bytes.Reader
}

func newParamsReader(body []byte) *paramsReader {
	return &paramsReader{r: bytes.NewReader(body)}
}

func (p *paramsReader) u8() (uint8, error) {
	b, err := p.r.ReadByte()
	return b, err
}

func (p *paramsReader) u16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(p.r, buf[:]); err != nil {
		return 0, errShortParams
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (p *paramsReader) u32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(p.r, buf[:]); err != nil {
		return 0, errShortParams
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (p *paramsReader) boolean() (bool, error) {
	b, err := p.u8()
	return b != 0, err
}

// i16 decodes a signed layer index / priority value; -1 (no preference/none)
// round-trips through the same two's-complement bit pattern u16/i16 already do.
func (p *paramsReader) i16() (int, error) {
	u, err := p.u16()
	if err != nil {
		return 0, err
	}
	return int(int16(u)), nil
}

// i8 decodes a signed byte, used for an AudioLevelObserver's dBov threshold
// (spec.md §4.11's [-127, 0] range).
func (p *paramsReader) i8() (int, error) {
	b, err := p.u8()
	if err != nil {
		return 0, err
	}
	return int(int8(b)), nil
}

func (p *paramsReader) str() (string, error) {
	n, err := p.u16()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", errShortParams
	}
	return string(buf), nil
}

func (p *paramsReader) extensionMap() (rtpstream.ExtensionMap, error) {
	var ext rtpstream.ExtensionMap
	ids := []*uint8{&ext.Mid, &ext.Rid, &ext.RRid, &ext.AbsSendTime, &ext.TransportWideCC, &ext.AudioLevel, &ext.VideoOrientation}
	for _, id := range ids {
		b, err := p.u8()
		if err != nil {
			return ext, err
		}
		*id = b
	}
	return ext, nil
}

func (p *paramsReader) encodings() ([]producer.Encoding, error) {
	count, err := p.u16()
	if err != nil {
		return nil, err
	}
	out := make([]producer.Encoding, count)
	for i := range out {
		ssrc, err := p.u32()
		if err != nil {
			return nil, err
		}
		rtx, err := p.u32()
		if err != nil {
			return nil, err
		}
		rid, err := p.str()
		if err != nil {
			return nil, err
		}
		out[i] = producer.Encoding{Ssrc: ssrc, RtxSsrc: rtx, Rid: rid}
	}
	return out, nil
}

func (p *paramsReader) sendParamsList() ([]rtpstream.SendParams, error) {
	count, err := p.u16()
	if err != nil {
		return nil, err
	}
	out := make([]rtpstream.SendParams, count)
	for i := range out {
		ssrc, err := p.u32()
		if err != nil {
			return nil, err
		}
		rtx, err := p.u32()
		if err != nil {
			return nil, err
		}
		clockRate, err := p.u32()
		if err != nil {
			return nil, err
		}
		ext, err := p.extensionMap()
		if err != nil {
			return nil, err
		}
		out[i] = rtpstream.SendParams{Ssrc: ssrc, RtxSsrc: rtx, ClockRate: clockRate, Ext: ext}
	}
	return out, nil
}

// paramsWriter is the mirror-image encoder used by response bodies.
type paramsWriter struct {
	buf bytes.Buffer
}

func (w *paramsWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *paramsWriter) boolean(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *paramsWriter) u16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.buf.Write(buf[:])
}

func (w *paramsWriter) i16(v int) { w.u16(uint16(int16(v))) }

func (w *paramsWriter) i8(v int) { w.u8(byte(int8(v))) }

func (w *paramsWriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

func (w *paramsWriter) str(s string) {
	w.u16(uint16(len(s)))
	w.buf.WriteString(s)
}

func (w *paramsWriter) strList(ss []string) {
	w.u16(uint16(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

// traceEventTypes encodes the u16-count-prefixed list producer.enableTraceEvent's
// request body expects, mirroring strList's shape.
func (w *paramsWriter) traceEventTypes(types []producer.TraceEventType) {
	w.u16(uint16(len(types)))
	for _, t := range types {
		w.u8(uint8(t))
	}
}

func (p *paramsReader) strList() ([]string, error) {
	n, err := p.u16()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := p.str()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (w *paramsWriter) bytes() []byte { return w.buf.Bytes() }

func producerKindFromWire(b uint8) producer.Kind {
	if b == 0 {
		return producer.KindAudio
	}
	return producer.KindVideo
}

func consumerTypeFromWire(b uint8) consumer.Type {
	switch b {
	case 1:
		return consumer.TypeSimulcast
	case 2:
		return consumer.TypeSVC
	case 3:
		return consumer.TypePipe
	default:
		return consumer.TypeSimple
	}
}

func traceEventTypeFromWire(b uint8) producer.TraceEventType {
	switch b {
	case 1:
		return producer.TraceEventFIR
	case 2:
		return producer.TraceEventPLI
	case 3:
		return producer.TraceEventRTP
	case 4:
		return producer.TraceEventNACK
	default:
		return producer.TraceEventKeyFrame
	}
}

// traceEventTypes decodes the u16-count-prefixed list of trace event type bytes
// producer.enableTraceEvent's request body carries, mirroring strList's shape.
func (p *paramsReader) traceEventTypes() ([]producer.TraceEventType, error) {
	n, err := p.u16()
	if err != nil {
		return nil, err
	}
	out := make([]producer.TraceEventType, n)
	for i := range out {
		b, err := p.u8()
		if err != nil {
			return nil, err
		}
		out[i] = traceEventTypeFromWire(b)
	}
	return out, nil
}
