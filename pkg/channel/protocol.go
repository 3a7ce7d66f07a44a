package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// class discriminates the three message classes spec.md §4.1 names, as the first byte
// of every frame payload.
type class byte

const (
	classRequest class = iota
	classResponse
	classNotification
)

// ErrorKind distinguishes the two controller-visible error classes spec.md §7 names.
// Network/crypto drops and fatal errors never reach this type; they are logged and
// dropped, or terminate the process, without ever becoming a Response.
type ErrorKind byte

const (
	// errorKindNone marks a Response with no error; not exported since callers build
	// successful responses via NewOkResponse, never by setting a kind directly.
	errorKindNone ErrorKind = iota
	// ErrorKindError is spec.md §7's Logic class: unknown target id, duplicate id,
	// illegal state transition.
	ErrorKindError
	// ErrorKindTypeError is spec.md §7's Validation class: malformed request body,
	// unknown enum value, invalid IP.
	ErrorKindTypeError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindError:
		return "Error"
	case ErrorKindTypeError:
		return "TypeError"
	default:
		return "none"
	}
}

// Request is spec.md §4.1's {id, method, target-id?, body}. Must be answered exactly
// once with a Response carrying the same Id.
type Request struct {
	ID       uint32
	Method   string
	TargetID string
	Body     []byte
}

// Response is spec.md §4.1's {id, accepted, body?, error?}. Error is nil on success.
type Response struct {
	ID       uint32
	Accepted bool
	Body     []byte
	Error    *ResponseError
}

// ResponseError carries the kind+reason pair spec.md §4.1/§7 names.
type ResponseError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// NewErrorResponse builds a failed Response for request id with the given kind/reason,
// the shape every dispatch failure path in Channel returns.
func NewErrorResponse(id uint32, kind ErrorKind, reason string) *Response {
	return &Response{ID: id, Accepted: false, Error: &ResponseError{Kind: kind, Reason: reason}}
}

// NewOkResponse builds a successful Response for request id carrying body.
func NewOkResponse(id uint32, body []byte) *Response {
	return &Response{ID: id, Accepted: true, Body: body}
}

// Notification is spec.md §4.1's {target-id, event, body?}. Fire-and-forget: nothing
// replies to it.
type Notification struct {
	TargetID string
	Event    string
	Body     []byte
}

// Codec turns the three message types into frame payloads and back. BinaryCodec is the
// only implementation this worker wires in; JSONCodec exists only as the declared stub
// spec.md §9's open compatibility question leaves for whoever resolves it.
type Codec interface {
	EncodeRequest(r *Request) ([]byte, error)
	EncodeResponse(r *Response) ([]byte, error)
	EncodeNotification(n *Notification) ([]byte, error)
	// Decode inspects payload's class discriminator and returns exactly one of
	// *Request, *Response, *Notification.
	Decode(payload []byte) (interface{}, error)
}

// ErrNotImplemented is returned by every JSONCodec method; JSON remains a legacy wire
// format spec.md §4.1 allows dropping as long as wire equivalence with the controller's
// binary form is preserved, and no repo in the pack implements a JSON control-channel
// codec to ground one against.
var ErrNotImplemented = errors.New("channel: JSON codec not implemented")

// JSONCodec is the unimplemented legacy carrier spec.md §4.1 permits dropping.
type JSONCodec struct{}

func (JSONCodec) EncodeRequest(*Request) ([]byte, error)           { return nil, ErrNotImplemented }
func (JSONCodec) EncodeResponse(*Response) ([]byte, error)         { return nil, ErrNotImplemented }
func (JSONCodec) EncodeNotification(*Notification) ([]byte, error) { return nil, ErrNotImplemented }
func (JSONCodec) Decode([]byte) (interface{}, error)               { return nil, ErrNotImplemented }

// BinaryCodec implements Codec with the length-prefixed-field binary layout this
// package hand-rolls (see package doc). Every string field is a u16 LE length prefix
// followed by its UTF-8 bytes; every byte-slice body field is a u32 LE length prefix
// followed by its bytes; a zero value is encoded as a zero-length field, not omitted.
type BinaryCodec struct{}

func (BinaryCodec) EncodeRequest(r *Request) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(classRequest))
	writeU32(&buf, r.ID)
	writeString(&buf, r.Method)
	writeString(&buf, r.TargetID)
	writeBytes(&buf, r.Body)
	return buf.Bytes(), nil
}

func (BinaryCodec) EncodeResponse(r *Response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(classResponse))
	writeU32(&buf, r.ID)
	buf.WriteByte(boolByte(r.Accepted))
	writeBytes(&buf, r.Body)
	if r.Error == nil {
		buf.WriteByte(byte(errorKindNone))
		writeString(&buf, "")
	} else {
		buf.WriteByte(byte(r.Error.Kind))
		writeString(&buf, r.Error.Reason)
	}
	return buf.Bytes(), nil
}

func (BinaryCodec) EncodeNotification(n *Notification) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(classNotification))
	writeString(&buf, n.TargetID)
	writeString(&buf, n.Event)
	writeBytes(&buf, n.Body)
	return buf.Bytes(), nil
}

func (BinaryCodec) Decode(payload []byte) (interface{}, error) {
	if len(payload) == 0 {
		return nil, errors.New("channel: empty frame")
	}
	r := bytes.NewReader(payload)
	cls, _ := r.ReadByte()

	switch class(cls) {
	case classRequest:
		id, err := readU32(r)
		if err != nil {
			return nil, err
		}
		method, err := readString(r)
		if err != nil {
			return nil, err
		}
		targetID, err := readString(r)
		if err != nil {
			return nil, err
		}
		body, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return &Request{ID: id, Method: method, TargetID: targetID, Body: body}, nil

	case classResponse:
		id, err := readU32(r)
		if err != nil {
			return nil, err
		}
		acceptedByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		body, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		reason, err := readString(r)
		if err != nil {
			return nil, err
		}
		resp := &Response{ID: id, Accepted: acceptedByte != 0, Body: body}
		if ErrorKind(kindByte) != errorKindNone {
			resp.Error = &ResponseError{Kind: ErrorKind(kindByte), Reason: reason}
		}
		return resp, nil

	case classNotification:
		targetID, err := readString(r)
		if err != nil {
			return nil, err
		}
		event, err := readString(r)
		if err != nil {
			return nil, err
		}
		body, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return &Notification{TargetID: targetID, Event: event, Body: body}, nil

	default:
		return nil, fmt.Errorf("channel: unknown frame class %d", cls)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeString(buf *bytes.Buffer, s string) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(b[:])
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", err
	}
	return string(s), nil
}

func writeBytes(buf *bytes.Buffer, body []byte) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(body)))
	buf.Write(b[:])
	buf.Write(body)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
