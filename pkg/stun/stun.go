// Package stun wraps github.com/pion/stun with the narrow set of operations the
// ICE-lite responder needs: validating an incoming Binding request against a local
// ufrag/password pair, and building the matching success or error response.
package stun

import (
	"errors"
	"strings"

	"github.com/pion/stun"
)

// ErrNotBindingRequest is returned when ParseBindingRequest is handed a message that
// isn't a STUN Binding request.
var ErrNotBindingRequest = errors.New("stun: not a binding request")

// ErrBadUsername is returned when the USERNAME attribute doesn't contain the expected
// "<localUfrag>:<remoteUfrag>" shape used by ICE.
var ErrBadUsername = errors.New("stun: malformed USERNAME attribute")

// BindingRequest is a parsed and partially validated STUN Binding request.
type BindingRequest struct {
	Message      *stun.Message
	LocalUfrag   string
	RemoteUfrag  string
	UseCandidate bool
	Priority     uint32
}

// ParseBindingRequest decodes raw into a STUN message and extracts the ICE-relevant
// attributes without yet checking MESSAGE-INTEGRITY (the caller does that with
// VerifyIntegrity once it has resolved the local password for LocalUfrag).
func ParseBindingRequest(raw []byte) (*BindingRequest, error) {
	m := &stun.Message{Raw: append([]byte{}, raw...)}
	if err := m.Decode(); err != nil {
		return nil, err
	}
	if m.Type != stun.BindingRequest {
		return nil, ErrNotBindingRequest
	}

	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(username), ":", 2)
	if len(parts) != 2 {
		return nil, ErrBadUsername
	}

	br := &BindingRequest{
		Message:     m,
		LocalUfrag:  parts[0],
		RemoteUfrag: parts[1],
	}
	br.UseCandidate = stun.UseCandidate.IsSet(m)

	var prio stun.PriorityAttr
	if err := prio.GetFrom(m); err == nil {
		br.Priority = uint32(prio)
	}
	return br, nil
}

// VerifyIntegrity checks the message's MESSAGE-INTEGRITY attribute against password,
// the short-term credential mechanism RFC 5389 §15.4 and ICE both use.
func VerifyIntegrity(m *stun.Message, password string) bool {
	return stun.MessageIntegrity(password).Check(m) == nil
}

// BuildSuccessResponse builds a Binding success response carrying XOR-MAPPED-ADDRESS
// for addr, integrity-protected with localPassword and FINGERPRINT-terminated.
func BuildSuccessResponse(txID [stun.TransactionIDSize]byte, ip []byte, port int, localPassword string) (*stun.Message, error) {
	m := stun.New()
	m.TransactionID = txID
	m.Type = stun.NewType(stun.MethodBinding, stun.ClassSuccessResponse)

	xorAddr := &stun.XORMappedAddress{IP: ip, Port: port}
	if err := m.Build(
		stun.NewType(stun.MethodBinding, stun.ClassSuccessResponse),
		xorAddr,
		stun.NewShortTermIntegrity(localPassword),
		stun.Fingerprint,
	); err != nil {
		return nil, err
	}
	m.TransactionID = txID
	m.WriteHeader()
	return m, nil
}

// BuildErrorResponse builds a Binding error response with the given code and reason,
// e.g. 400 "Bad Request" or 401 "Unauthorized".
func BuildErrorResponse(txID [stun.TransactionIDSize]byte, code stun.ErrorCode) (*stun.Message, error) {
	m := stun.New()
	m.TransactionID = txID
	if err := m.Build(
		stun.NewType(stun.MethodBinding, stun.ClassErrorResponse),
		code,
		stun.Fingerprint,
	); err != nil {
		return nil, err
	}
	m.TransactionID = txID
	m.WriteHeader()
	return m, nil
}

// IsStunMessage reports whether raw begins with a plausible STUN header, used by the
// WebRtcServer's demux before handing the datagram to a transport.
func IsStunMessage(raw []byte) bool {
	return stun.IsMessage(raw)
}

var (
	// ErrBadRequest and ErrUnauthorized are the two STUN error codes the ICE-lite
	// responder ever emits (spec.md §4.2: malformed/integrity failures -> 400/401).
	ErrBadRequest   = stun.CodeBadRequest
	ErrUnauthorized = stun.CodeUnauthorized
)
