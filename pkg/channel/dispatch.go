package channel

import (
	"errors"
	"io"
	"sync"

	"github.com/go-logr/logr"
)

// RequestHandler answers one Request for a registered target id. It runs synchronously
// on the dispatch loop (spec.md §4.1: "method handlers are synchronous with respect to
// the event loop") and returns the Response body to accept with, or an error to fail
// the request with. A *ResponseError returned as err controls the wire ErrorKind
// reported back to the controller; any other error is reported as ErrorKindError.
type RequestHandler func(req *Request) ([]byte, error)

// NotificationHandler observes one fire-and-forget Notification for a registered
// target id. It has no reply path.
type NotificationHandler func(n *Notification)

// ErrUnknownTarget is wrapped into an ErrorKindError Response when a Request or
// Notification names a target id with no registered handler, per spec.md §4.1
// ("unknown ids fail with Error").
var ErrUnknownTarget = errors.New("channel: unknown target id")

// ErrUnknownMethod is wrapped into an ErrorKindError Response when a Request names a
// registered target but an unregistered method, per spec.md §4.1 ("unknown methods for
// a known target fail with Error").
var ErrUnknownMethod = errors.New("channel: unknown method")

// Channel is the worker side of the control channel: it owns the duplex frame
// stream, the {id → request-handler} and {id → notification-handler} tables spec.md
// §4.1 describes as thread-local (this worker is itself single-threaded per spec.md
// §5, so one Channel per process loop matches that directly). Generalizes
// pkg/producer's OnX-registration style from in-process listeners to wire messages.
type Channel struct {
	log   logr.Logger
	codec Codec
	r     *Reader
	w     *Writer

	mu           sync.Mutex
	requestFuncs map[string]map[string]RequestHandler
	notifyFuncs  map[string]map[string]NotificationHandler
	closed       bool
	onClose      func()
}

// New builds a Channel reading frames from consumerFd and writing frames to
// producerFd — spec.md §4.1's "consumer fd, producer fd" duplex pair, named from the
// controller's point of view (it consumes what the worker produces, and produces what
// the worker consumes).
func New(log logr.Logger, consumerFd io.Reader, producerFd io.Writer, codec Codec) *Channel {
	return &Channel{
		log:          log,
		codec:        codec,
		r:            NewReader(consumerFd),
		w:            NewWriter(producerFd),
		requestFuncs: make(map[string]map[string]RequestHandler),
		notifyFuncs:  make(map[string]map[string]NotificationHandler),
	}
}

// RegisterRequestHandler binds method on targetID to handler, replacing any existing
// binding for that pair. Called by owning entities (Router, Transport, Producer...) as
// they're created, mirroring spec.md §4.1's "registered by owning entities".
func (c *Channel) RegisterRequestHandler(targetID, method string, handler RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.requestFuncs[targetID]
	if !ok {
		m = make(map[string]RequestHandler)
		c.requestFuncs[targetID] = m
	}
	m[method] = handler
}

// RegisterNotificationHandler binds event on targetID to handler.
func (c *Channel) RegisterNotificationHandler(targetID, event string, handler NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.notifyFuncs[targetID]
	if !ok {
		m = make(map[string]NotificationHandler)
		c.notifyFuncs[targetID] = m
	}
	m[event] = handler
}

// UnregisterTarget drops every request/notification handler registered for targetID,
// called when an owning entity closes so a stray late message fails with
// ErrUnknownTarget instead of reaching a dangling handler.
func (c *Channel) UnregisterTarget(targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.requestFuncs, targetID)
	delete(c.notifyFuncs, targetID)
}

// OnClose registers a callback invoked once, from Run's goroutine, when the
// controller's end of the channel closes — spec.md §4.1's "the worker treats it as a
// fatal shutdown signal" is left to the caller to act on (process exit code per
// spec.md §6/§7's Fatal class), Channel itself only reports the event.
func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Run reads frames until the consumer fd closes or a fatal framing error occurs
// (ErrFrameTooLarge: spec.md §4.1 "if a single payload exceeds the 4 MiB ceiling, the
// connection is torn down"), dispatching each decoded Request/Notification in arrival
// order on the calling goroutine. It blocks until the stream ends; callers run it on
// its own goroutine alongside the rest of the worker's event loop.
func (c *Channel) Run() error {
	for {
		payload, err := c.r.ReadFrame()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			onClose := c.onClose
			c.mu.Unlock()
			if onClose != nil {
				onClose()
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		msg, err := c.codec.Decode(payload)
		if err != nil {
			c.log.V(0).Info("dropping malformed frame", "error", err.Error())
			continue
		}

		switch m := msg.(type) {
		case *Request:
			c.handleRequest(m)
		case *Notification:
			c.handleNotification(m)
		case *Response:
			// The controller never sends Responses on this half of the pair in
			// spec.md's model (the worker only ever answers, never asks); logged
			// and dropped rather than treated as a protocol violation, matching
			// §7's "network/crypto drop" handling for unexpected wire shapes.
			c.log.V(1).Info("unexpected response frame from controller", "id", m.ID)
		}
	}
}

func (c *Channel) handleRequest(req *Request) {
	c.mu.Lock()
	m, targetKnown := c.requestFuncs[req.TargetID]
	var handler RequestHandler
	var methodKnown bool
	if targetKnown {
		handler, methodKnown = m[req.Method]
	}
	c.mu.Unlock()

	var resp *Response
	switch {
	case !targetKnown:
		resp = NewErrorResponse(req.ID, ErrorKindError, ErrUnknownTarget.Error())
	case !methodKnown:
		resp = NewErrorResponse(req.ID, ErrorKindError, ErrUnknownMethod.Error())
	default:
		body, err := handler(req)
		if err == nil {
			resp = NewOkResponse(req.ID, body)
		} else {
			var respErr *ResponseError
			if errors.As(err, &respErr) {
				resp = NewErrorResponse(req.ID, respErr.Kind, respErr.Reason)
			} else {
				resp = NewErrorResponse(req.ID, ErrorKindError, err.Error())
			}
		}
	}

	if err := c.sendResponse(resp); err != nil {
		c.log.V(0).Info("failed to write response frame", "id", resp.ID, "error", err.Error())
	}
}

func (c *Channel) sendResponse(resp *Response) error {
	payload, err := c.codec.EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.w.WriteFrame(payload)
}

func (c *Channel) handleNotification(n *Notification) {
	c.mu.Lock()
	m, ok := c.notifyFuncs[n.TargetID]
	var handler NotificationHandler
	if ok {
		handler, ok = m[n.Event]
	}
	c.mu.Unlock()

	if !ok {
		c.log.V(1).Info("dropping notification for unknown target/event", "targetId", n.TargetID, "event", n.Event)
		return
	}
	handler(n)
}

// Notify sends a fire-and-forget Notification toward the controller, used by owning
// entities to report events (producerclose, volumes, dominantSpeaker, ...).
func (c *Channel) Notify(n *Notification) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	payload, err := c.codec.EncodeNotification(n)
	if err != nil {
		return err
	}
	return c.w.WriteFrame(payload)
}
