// Package ice implements an ICE-lite (RFC 8445 §2.7) responder: it never gathers
// candidates or initiates connectivity checks, only answers STUN Binding requests
// arriving on tuples a Transport already owns and tracks which tuple is currently
// selected. This is deliberately not a wrapper around pion/ice.Agent, whose
// controlling/controlled state machine assumes a full bidirectional ICE agent; see
// DESIGN.md for the rationale. ice.CandidateType/NetworkType from pion/ice/v2 are
// reused here as the enum vocabulary instead of being redefined.
package ice

import (
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	pionice "github.com/pion/ice/v2"
	"github.com/pion/randutil"
)

// State mirrors spec.md §4.2's IceServer state machine.
type State int

const (
	StateNew State = iota
	StateConnected
	StateCompleted
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateCompleted:
		return "completed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "new"
	}
}

// disconnectTimeout is the liveness window after which a selected tuple with no
// traffic flips the server to disconnected (spec.md §4.2).
const disconnectTimeout = 15 * time.Second

// Tuple identifies one concrete packet flow: protocol, the owning local socket, and
// the remote address. Equality is protocol + local socket identity + remote bytes.
type Tuple struct {
	Protocol   pionice.NetworkType
	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

func (t Tuple) key() string {
	return t.Protocol.String() + "|" + t.LocalAddr.String() + "|" + t.RemoteAddr.String()
}

type tupleState struct {
	tuple      Tuple
	lastTraffic time.Time
	nominated  bool
}

// Candidate describes one local ICE candidate surfaced to the controller.
type Candidate struct {
	Foundation string
	Protocol   string
	Priority   uint32
	IP         net.IP
	Port       int
	Type       pionice.CandidateType
}

// Listener receives IceServer lifecycle events, mirroring DtlsTransport/IceServer
// "Listener" traits from spec.md §9.
type Listener interface {
	OnIceServerTupleAdded(t Tuple)
	OnIceServerTupleRemoved(t Tuple)
	OnIceServerSelectedTuple(t Tuple)
	OnIceServerStateChange(state State)
}

// Server is an ICE-lite responder scoped to one WebRtcTransport.
type Server struct {
	mu sync.Mutex

	log logr.Logger

	usernameFragment string
	password         string

	state    State
	tuples   map[string]*tupleState
	selected *tupleState

	listener Listener
}

// NewServer creates a Server with a freshly generated ufrag/password pair.
func NewServer(log logr.Logger, listener Listener) (*Server, error) {
	ufrag, err := randutil.GenerateCryptoRandomString(4, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	if err != nil {
		return nil, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(24, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	if err != nil {
		return nil, err
	}
	return &Server{
		log:              log,
		usernameFragment: ufrag,
		password:         pwd,
		tuples:           make(map[string]*tupleState),
		listener:         listener,
	}, nil
}

// UsernameFragment returns the local ufrag, used both in the controller-facing
// iceParameters and as the WebRtcServer demux key.
func (s *Server) UsernameFragment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usernameFragment
}

// Password returns the local ICE password, used to verify MESSAGE-INTEGRITY.
func (s *Server) Password() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.password
}

// State returns the current ICE state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelectedTuple returns the currently selected tuple, if any.
func (s *Server) SelectedTuple() (Tuple, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return Tuple{}, false
	}
	return s.selected.tuple, true
}

// OnValidBinding records a successful STUN Binding request on t: adds the tuple if
// new, refreshes its liveness, and if useCandidate nominates it as selected.
func (s *Server) OnValidBinding(t Tuple, useCandidate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := t.key()
	ts, ok := s.tuples[k]
	if !ok {
		ts = &tupleState{tuple: t}
		s.tuples[k] = ts
		s.mu.Unlock()
		s.listener.OnIceServerTupleAdded(t)
		s.mu.Lock()
	}
	ts.lastTraffic = time.Now()

	if s.state == StateNew {
		s.setState(StateConnected)
	}

	if useCandidate {
		ts.nominated = true
		s.selected = ts
		s.mu.Unlock()
		s.listener.OnIceServerSelectedTuple(t)
		s.mu.Lock()
		if s.state != StateCompleted {
			s.setState(StateCompleted)
		}
	} else if s.selected == nil {
		// No nomination yet: the most recently valid tuple is a tentative default,
		// matching spec.md §4.2's tie-break ("most recent valid traffic").
		s.selected = ts
	}
}

// RemoveTuple drops t (TCP connection closed, or explicit restart), demoting the
// selected tuple if it was the one removed.
func (s *Server) RemoveTuple(t Tuple) {
	s.mu.Lock()
	k := t.key()
	ts, ok := s.tuples[k]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tuples, k)
	wasSelected := s.selected == ts
	if wasSelected {
		s.selected = nil
	}
	s.mu.Unlock()

	s.listener.OnIceServerTupleRemoved(t)
	if wasSelected {
		s.mu.Lock()
		s.setState(StateDisconnected)
		s.mu.Unlock()
	}
}

// CheckTimeouts is driven by the owning Transport's tick; it demotes the server to
// disconnected if the selected tuple has been silent past disconnectTimeout.
func (s *Server) CheckTimeouts(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return
	}
	if now.Sub(s.selected.lastTraffic) > disconnectTimeout && s.state != StateDisconnected {
		s.setState(StateDisconnected)
	}
}

// Restart issues a fresh ufrag/password and resets state to new (spec.md's
// "any -> new on RestartIce"), clearing all tuples.
func (s *Server) Restart() error {
	ufrag, err := randutil.GenerateCryptoRandomString(4, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	if err != nil {
		return err
	}
	pwd, err := randutil.GenerateCryptoRandomString(24, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.usernameFragment = ufrag
	s.password = pwd
	s.tuples = make(map[string]*tupleState)
	s.selected = nil
	s.setState(StateNew)
	s.mu.Unlock()
	return nil
}

func (s *Server) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.mu.Unlock()
	s.listener.OnIceServerStateChange(state)
	s.mu.Lock()
}
