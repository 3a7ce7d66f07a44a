package worker

import (
	"fmt"
	"net"
	"os"
	"time"

	pionice "github.com/pion/ice/v2"

	"github.com/ionworker/worker/pkg/channel"
	"github.com/ionworker/worker/pkg/consumer"
	"github.com/ionworker/worker/pkg/dtls"
	"github.com/ionworker/worker/pkg/ice"
	"github.com/ionworker/worker/pkg/portmgr"
	"github.com/ionworker/worker/pkg/router"
	"github.com/ionworker/worker/pkg/transport"
)

// workerTargetID is the fixed TargetID scenario S1 names for every worker-scoped
// method (dump, createRouter, ...), standing in for the lack of any object id at
// the worker's own level.
const workerTargetID = "worker"

func asTypeError(err error) error {
	return &channel.ResponseError{Kind: channel.ErrorKindTypeError, Reason: err.Error()}
}

func asError(err error) error {
	return &channel.ResponseError{Kind: channel.ErrorKindError, Reason: err.Error()}
}

// registerWorkerHandlers binds the two worker-scoped methods named in spec.md
// scenario S1/S2: dump reports process identity and live router ids; createRouter
// is the sole way a new Router comes into existence.
func (w *Worker) registerWorkerHandlers() {
	w.ch.RegisterRequestHandler(workerTargetID, "worker.dump", w.handleWorkerDump)
	w.ch.RegisterRequestHandler(workerTargetID, "worker.createRouter", w.handleCreateRouter)
}

func (w *Worker) handleWorkerDump(req *channel.Request) ([]byte, error) {
	w.mu.Lock()
	ids := make([]string, 0, len(w.routers))
	for id := range w.routers {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	body := &paramsWriter{}
	body.u32(uint32(os.Getpid()))
	body.strList(ids)
	return body.bytes(), nil
}

func (w *Worker) handleCreateRouter(req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}

	w.mu.Lock()
	if _, exists := w.routers[id]; exists {
		w.mu.Unlock()
		return nil, asError(fmt.Errorf("worker: router %q already exists", id))
	}
	r := router.New(id, w.log)
	r.SetTraceListener(w)
	r.SetObserverListener(w)
	w.routers[id] = r
	w.mu.Unlock()

	w.registerRouterHandlers(r)
	return nil, nil
}

// registerRouterHandlers binds the router-scoped methods for r under r.ID as
// TargetID, mirroring scenario S2's "router.createWebRtcTransport" addressed at
// the router's own id.
func (w *Worker) registerRouterHandlers(r *router.Router) {
	id := r.ID
	w.ch.RegisterRequestHandler(id, "router.createWebRtcTransport", func(req *channel.Request) ([]byte, error) {
		return w.handleCreateWebRtcTransport(r, req)
	})
	w.ch.RegisterRequestHandler(id, "router.createPlainTransport", func(req *channel.Request) ([]byte, error) {
		return w.handleCreatePlainTransport(r, req)
	})
	w.ch.RegisterRequestHandler(id, "router.createDirectTransport", func(req *channel.Request) ([]byte, error) {
		return w.handleCreateDirectTransport(r, req)
	})
	w.ch.RegisterRequestHandler(id, "router.createPipeTransport", func(req *channel.Request) ([]byte, error) {
		return w.handleCreatePipeTransport(r, req)
	})
	w.ch.RegisterRequestHandler(id, "router.close", func(req *channel.Request) ([]byte, error) {
		w.mu.Lock()
		delete(w.routers, id)
		w.mu.Unlock()
		w.ch.UnregisterTarget(id)
		if err := r.Close(); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(id, "router.createAudioLevelObserver", func(req *channel.Request) ([]byte, error) {
		return w.handleCreateAudioLevelObserver(r, req)
	})
	w.ch.RegisterRequestHandler(id, "router.createActiveSpeakerObserver", func(req *channel.Request) ([]byte, error) {
		return w.handleCreateActiveSpeakerObserver(r, req)
	})
}

func (w *Worker) handleCreateAudioLevelObserver(r *router.Router, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	maxEntries, err := p.u16()
	if err != nil {
		return nil, asTypeError(err)
	}
	threshold, err := p.i8()
	if err != nil {
		return nil, asTypeError(err)
	}
	intervalMs, err := p.u32()
	if err != nil {
		return nil, asTypeError(err)
	}

	o, err := r.CreateAudioLevelObserver(id, maxEntries, int8(threshold), time.Duration(intervalMs)*time.Millisecond)
	if err != nil {
		return nil, asError(err)
	}
	w.addTickable(o)
	w.registerAudioLevelObserverHandlers(r, o.ID())

	body := &paramsWriter{}
	body.str(o.ID())
	return body.bytes(), nil
}

func (w *Worker) handleCreateActiveSpeakerObserver(r *router.Router, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	intervalMs, err := p.u32()
	if err != nil {
		return nil, asTypeError(err)
	}

	o := r.CreateActiveSpeakerObserver(id, time.Duration(intervalMs)*time.Millisecond)
	w.addTickable(o)
	w.registerActiveSpeakerObserverHandlers(r, o.ID())

	body := &paramsWriter{}
	body.str(o.ID())
	return body.bytes(), nil
}

// registerAudioLevelObserverHandlers binds addProducer/removeProducer/pause/
// resume/close under observerID, mirroring registerConsumerHandlers's shape.
func (w *Worker) registerAudioLevelObserverHandlers(r *router.Router, observerID string) {
	w.ch.RegisterRequestHandler(observerID, "audioLevelObserver.addProducer", func(req *channel.Request) ([]byte, error) {
		p := newParamsReader(req.Body)
		producerID, err := p.str()
		if err != nil {
			return nil, asTypeError(err)
		}
		if err := r.AddProducerToAudioLevelObserver(observerID, producerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "audioLevelObserver.removeProducer", func(req *channel.Request) ([]byte, error) {
		p := newParamsReader(req.Body)
		producerID, err := p.str()
		if err != nil {
			return nil, asTypeError(err)
		}
		if err := r.RemoveProducerFromAudioLevelObserver(observerID, producerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "audioLevelObserver.pause", func(req *channel.Request) ([]byte, error) {
		if err := r.PauseAudioLevelObserver(observerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "audioLevelObserver.resume", func(req *channel.Request) ([]byte, error) {
		if err := r.ResumeAudioLevelObserver(observerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "audioLevelObserver.close", func(req *channel.Request) ([]byte, error) {
		w.ch.UnregisterTarget(observerID)
		if err := r.CloseAudioLevelObserver(observerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
}

// registerActiveSpeakerObserverHandlers binds addProducer/removeProducer/pause/
// resume/close under observerID.
func (w *Worker) registerActiveSpeakerObserverHandlers(r *router.Router, observerID string) {
	w.ch.RegisterRequestHandler(observerID, "activeSpeakerObserver.addProducer", func(req *channel.Request) ([]byte, error) {
		p := newParamsReader(req.Body)
		producerID, err := p.str()
		if err != nil {
			return nil, asTypeError(err)
		}
		if err := r.AddProducerToActiveSpeakerObserver(observerID, producerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "activeSpeakerObserver.removeProducer", func(req *channel.Request) ([]byte, error) {
		p := newParamsReader(req.Body)
		producerID, err := p.str()
		if err != nil {
			return nil, asTypeError(err)
		}
		if err := r.RemoveProducerFromActiveSpeakerObserver(observerID, producerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "activeSpeakerObserver.pause", func(req *channel.Request) ([]byte, error) {
		if err := r.PauseActiveSpeakerObserver(observerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "activeSpeakerObserver.resume", func(req *channel.Request) ([]byte, error) {
		if err := r.ResumeActiveSpeakerObserver(observerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(observerID, "activeSpeakerObserver.close", func(req *channel.Request) ([]byte, error) {
		w.ch.UnregisterTarget(observerID)
		if err := r.CloseActiveSpeakerObserver(observerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
}

// ownSocketReadLoop pumps datagrams from a transport's dedicated UDP socket
// straight to its ReceivePacket, the single-owner equivalent of
// webrtcserver.Server's shared readLoop/dispatch pair.
func ownSocketReadLoop(conn *net.UDPConn, tr *transport.WebRtcTransport) {
	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := append([]byte{}, buf[:n]...)
		tr.ReceivePacket(pkt, conn.LocalAddr(), from)
	}
}

// udpCandidatePriority is a fixed host-candidate priority (RFC 8445 §5.1.2's
// formula collapsed to one constant since this ICE-lite responder never has more
// than one local candidate to rank against another).
const udpCandidatePriority = 0x7e7f1eff

func (w *Worker) handleCreateWebRtcTransport(r *router.Router, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	listenIPs, err := p.strList()
	if err != nil {
		return nil, asTypeError(err)
	}
	enableUdp, err := p.boolean()
	if err != nil {
		return nil, asTypeError(err)
	}
	if _, err := p.boolean(); err != nil { // enableTcp, accepted but not yet wired to a TCP path
		return nil, asTypeError(err)
	}
	if !enableUdp {
		return nil, asError(fmt.Errorf("worker: enableUdp is required; there is no TCP path"))
	}

	listenIP := w.freeListenIP()
	if len(listenIPs) > 0 {
		if parsed := net.ParseIP(listenIPs[0]); parsed != nil {
			listenIP = parsed
		}
	}

	var (
		tr   *transport.WebRtcTransport
		port uint16
	)
	bridge := &webrtcBridge{w: w, r: r}

	if w.webrtcServer != nil {
		addrs := w.webrtcServer.LocalAddrs()
		if len(addrs) == 0 {
			return nil, asError(fmt.Errorf("worker: shared webrtc socket has no bound listen IPs"))
		}
		listenIP = addrs[0].IP
		port = uint16(addrs[0].Port)

		tr, err = transport.New(id, w.webrtcServer, w.certs, dtls.RoleAuto, w.log, bridge)
		if err != nil {
			return nil, asError(err)
		}
		w.webrtcServer.RegisterTransport(tr, tr.UsernameFragment())
	} else {
		var conn *net.UDPConn
		conn, port, err = w.portMgr.BindUDP(listenIP)
		if err != nil {
			return nil, asError(err)
		}

		tr, err = transport.New(id, conn, w.certs, dtls.RoleAuto, w.log, bridge)
		if err != nil {
			conn.Close()
			w.portMgr.Release(portmgr.UDP, listenIP, port)
			return nil, asError(err)
		}
		go ownSocketReadLoop(conn, tr)
	}

	r.AddTransport(tr, tr)
	w.addTickable(tr)
	w.registerTransportHandlers(r, tr.ID(), webrtcHandlerSet(w, r, tr))

	candidate := ice.Candidate{
		Foundation: "udpcandidate",
		Protocol:   "udp",
		Priority:   udpCandidatePriority,
		IP:         listenIP,
		Port:       int(port),
		Type:       pionice.CandidateTypeHost,
	}

	body := &paramsWriter{}
	body.str(id)
	body.u16(1)
	body.str(candidate.Foundation)
	body.str(candidate.Protocol)
	body.u32(candidate.Priority)
	body.str(candidate.IP.String())
	body.u16(uint16(candidate.Port))
	body.str(tr.UsernameFragment())
	body.str(tr.Password())
	fps := tr.Fingerprints()
	body.u16(uint16(len(fps)))
	for _, fp := range fps {
		body.str(fp.Algorithm)
		body.str(fp.Value)
	}
	return body.bytes(), nil
}

func (w *Worker) handleCreatePlainTransport(r *router.Router, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	listenIPStr, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	comedia, err := p.boolean()
	if err != nil {
		return nil, asTypeError(err)
	}

	listenIP := net.ParseIP(listenIPStr)
	if listenIP == nil {
		listenIP = w.freeListenIP()
	}

	conn, port, err := w.portMgr.BindUDP(listenIP)
	if err != nil {
		return nil, asError(err)
	}

	bridge := &plainBridge{w: w, r: r}
	tr := transport.NewPlain(id, conn, nil, comedia, w.log, bridge)
	r.AddTransport(tr, tr)
	w.registerTransportHandlers(r, tr.ID(), plainHandlerSet(w, r, tr))

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			tr.ReceivePacket(append([]byte{}, buf[:n]...), from)
		}
	}()

	body := &paramsWriter{}
	body.str(id)
	body.str(listenIP.String())
	body.u16(port)
	return body.bytes(), nil
}

func (w *Worker) handleCreateDirectTransport(r *router.Router, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}

	tr := transport.NewDirect(id, w.log, &directBridge{w: w, r: r})
	r.AddTransport(tr, tr)
	w.registerTransportHandlers(r, tr.ID(), directHandlerSet(w, r, tr))

	body := &paramsWriter{}
	body.str(id)
	return body.bytes(), nil
}

// handleCreatePipeTransport dials a TCP pipe straight to the given remote
// endpoint: unlike mediasoup's two-step connect, this worker's PipeTransport has
// no dedicated transport.connect method (a Pipe's remote is always another
// worker's Pipe, known up front by the controller orchestrating both ends), so
// the dial happens synchronously inside create itself.
func (w *Worker) handleCreatePipeTransport(r *router.Router, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	remoteIP, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	remotePort, err := p.u16()
	if err != nil {
		return nil, asTypeError(err)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(remoteIP, fmt.Sprint(remotePort)), 5*time.Second)
	if err != nil {
		return nil, asError(err)
	}

	tr := transport.NewPipe(id, conn, w.log, &pipeBridge{w: w, r: r})
	r.AddTransport(tr, tr)
	w.registerTransportHandlers(r, tr.ID(), pipeHandlerSet(w, r, tr))

	body := &paramsWriter{}
	body.str(id)
	return body.bytes(), nil
}

// transportHandlerSet is what each per-variant *handlerSet builder below
// returns: the subset of transport-scoped methods that variant actually
// supports, keyed by the dotted method name a "transport.<verb>" Request names.
type transportHandlerSet map[string]channel.RequestHandler

// registerTransportHandlers binds every entry of set under transportID, plus the
// five methods every variant shares: produce, consume, produceData, consumeData
// and close (produce/consume are variant-specific only in which
// Transport.AddTransport bound sender they end up calling through, which is
// already baked into each closure set receives).
func (w *Worker) registerTransportHandlers(r *router.Router, transportID string, set transportHandlerSet) {
	for method, handler := range set {
		w.ch.RegisterRequestHandler(transportID, method, handler)
	}
	w.ch.RegisterRequestHandler(transportID, "transport.produce", func(req *channel.Request) ([]byte, error) {
		return w.handleProduce(r, transportID, req)
	})
	w.ch.RegisterRequestHandler(transportID, "transport.consume", func(req *channel.Request) ([]byte, error) {
		return w.handleConsume(r, transportID, req)
	})
	w.ch.RegisterRequestHandler(transportID, "transport.produceData", func(req *channel.Request) ([]byte, error) {
		return w.handleProduceData(r, transportID, req)
	})
	w.ch.RegisterRequestHandler(transportID, "transport.consumeData", func(req *channel.Request) ([]byte, error) {
		return w.handleConsumeData(r, transportID, req)
	})
	w.ch.RegisterRequestHandler(transportID, "transport.close", func(req *channel.Request) ([]byte, error) {
		for _, pid := range r.TransportProducers(transportID) {
			w.ch.UnregisterTarget(pid)
		}
		for _, cid := range r.TransportConsumers(transportID) {
			w.ch.UnregisterTarget(cid)
		}
		w.ch.UnregisterTarget(transportID)
		if err := r.RemoveTransport(transportID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
}

func webrtcHandlerSet(w *Worker, r *router.Router, tr *transport.WebRtcTransport) transportHandlerSet {
	return transportHandlerSet{
		"transport.connect": func(req *channel.Request) ([]byte, error) {
			p := newParamsReader(req.Body)
			algorithm, err := p.str()
			if err != nil {
				return nil, asTypeError(err)
			}
			value, err := p.str()
			if err != nil {
				return nil, asTypeError(err)
			}
			if err := tr.SetRemoteFingerprint(algorithm, value); err != nil {
				return nil, asTypeError(err)
			}
			if err := tr.ConnectSelectedTuple(); err != nil {
				return nil, asError(err)
			}
			return nil, nil
		},
	}
}

func plainHandlerSet(w *Worker, r *router.Router, tr *transport.PlainTransport) transportHandlerSet {
	return transportHandlerSet{
		"transport.connect": func(req *channel.Request) ([]byte, error) {
			p := newParamsReader(req.Body)
			ipStr, err := p.str()
			if err != nil {
				return nil, asTypeError(err)
			}
			remotePort, err := p.u16()
			if err != nil {
				return nil, asTypeError(err)
			}
			ip := net.ParseIP(ipStr)
			if ip == nil {
				return nil, asTypeError(fmt.Errorf("worker: invalid remote ip %q", ipStr))
			}
			tr.SetRemote(&net.UDPAddr{IP: ip, Port: int(remotePort)})
			return nil, nil
		},
	}
}

func directHandlerSet(w *Worker, r *router.Router, tr *transport.DirectTransport) transportHandlerSet {
	return transportHandlerSet{}
}

func pipeHandlerSet(w *Worker, r *router.Router, tr *transport.PipeTransport) transportHandlerSet {
	return transportHandlerSet{}
}

func (w *Worker) handleProduce(r *router.Router, transportID string, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	kindByte, err := p.u8()
	if err != nil {
		return nil, asTypeError(err)
	}
	ext, err := p.extensionMap()
	if err != nil {
		return nil, asTypeError(err)
	}
	encodings, err := p.encodings()
	if err != nil {
		return nil, asTypeError(err)
	}
	clockRate, err := p.u32()
	if err != nil {
		return nil, asTypeError(err)
	}

	prod, err := r.CreateProducer(transportID, id, producerKindFromWire(kindByte), ext, encodings, clockRate, w.factory)
	if err != nil {
		return nil, asError(err)
	}
	w.registerProducerHandlers(r, prod.ID)

	body := &paramsWriter{}
	body.str(prod.ID)
	return body.bytes(), nil
}

func (w *Worker) handleConsume(r *router.Router, transportID string, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	producerID, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	typeByte, err := p.u8()
	if err != nil {
		return nil, asTypeError(err)
	}
	audio, err := p.boolean()
	if err != nil {
		return nil, asTypeError(err)
	}
	sendParams, err := p.sendParamsList()
	if err != nil {
		return nil, asTypeError(err)
	}

	cons, err := r.CreateConsumer(transportID, id, producerID, consumerTypeFromWire(typeByte), audio, sendParams)
	if err != nil {
		return nil, asError(err)
	}
	w.registerConsumerHandlers(r, cons.ID)

	body := &paramsWriter{}
	body.str(cons.ID)
	return body.bytes(), nil
}

func (w *Worker) handleProduceData(r *router.Router, transportID string, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	streamID, err := p.u16()
	if err != nil {
		return nil, asTypeError(err)
	}
	if err := r.CreateDataProducer(transportID, id, streamID); err != nil {
		return nil, asError(err)
	}
	return nil, nil
}

func (w *Worker) handleConsumeData(r *router.Router, transportID string, req *channel.Request) ([]byte, error) {
	p := newParamsReader(req.Body)
	id, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	dataProducerID, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	streamID, err := p.u16()
	if err != nil {
		return nil, asTypeError(err)
	}
	label, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	protocol, err := p.str()
	if err != nil {
		return nil, asTypeError(err)
	}
	ordered, err := p.boolean()
	if err != nil {
		return nil, asTypeError(err)
	}

	_, err = r.CreateDataConsumer(transportID, id, dataProducerID, streamID, label, protocol, ordered)
	if err != nil {
		return nil, asError(err)
	}
	return nil, nil
}

// registerProducerHandlers binds pause/resume/close under producerID, per spec.md
// scenario S5: producer.pause must both mute the Producer and fan a
// producerpause Notification out to every Consumer currently bound to it.
func (w *Worker) registerProducerHandlers(r *router.Router, producerID string) {
	w.ch.RegisterRequestHandler(producerID, "producer.pause", func(req *channel.Request) ([]byte, error) {
		if err := r.PauseProducer(producerID); err != nil {
			return nil, asError(err)
		}
		for _, cid := range r.ConsumersOf(producerID) {
			_ = w.ch.Notify(&channel.Notification{TargetID: cid, Event: "producerpause"})
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(producerID, "producer.resume", func(req *channel.Request) ([]byte, error) {
		if err := r.ResumeProducer(producerID); err != nil {
			return nil, asError(err)
		}
		for _, cid := range r.ConsumersOf(producerID) {
			_ = w.ch.Notify(&channel.Notification{TargetID: cid, Event: "producerresume"})
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(producerID, "producer.close", func(req *channel.Request) ([]byte, error) {
		w.ch.UnregisterTarget(producerID)
		if err := r.CloseProducer(producerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(producerID, "producer.enableTraceEvent", func(req *channel.Request) ([]byte, error) {
		p := newParamsReader(req.Body)
		types, err := p.traceEventTypes()
		if err != nil {
			return nil, asError(err)
		}
		if err := r.SetProducerTraceEvent(producerID, types); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
}

// registerConsumerHandlers binds pause/resume/close/requestKeyFrame under
// consumerID.
func (w *Worker) registerConsumerHandlers(r *router.Router, consumerID string) {
	w.ch.RegisterRequestHandler(consumerID, "consumer.pause", func(req *channel.Request) ([]byte, error) {
		if err := r.PauseConsumer(consumerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(consumerID, "consumer.resume", func(req *channel.Request) ([]byte, error) {
		if err := r.ResumeConsumer(consumerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(consumerID, "consumer.requestKeyFrame", func(req *channel.Request) ([]byte, error) {
		if err := r.RequestConsumerKeyFrame(consumerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(consumerID, "consumer.close", func(req *channel.Request) ([]byte, error) {
		w.ch.UnregisterTarget(consumerID)
		if err := r.CloseConsumer(consumerID); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(consumerID, "consumer.setPreferredLayers", func(req *channel.Request) ([]byte, error) {
		p := newParamsReader(req.Body)
		spatial, err := p.i16()
		if err != nil {
			return nil, asError(err)
		}
		temporal, err := p.i16()
		if err != nil {
			return nil, asError(err)
		}
		if err := r.SetConsumerPreferredLayers(consumerID, consumer.Layers{Spatial: spatial, Temporal: temporal}); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
	w.ch.RegisterRequestHandler(consumerID, "consumer.setPriority", func(req *channel.Request) ([]byte, error) {
		p := newParamsReader(req.Body)
		priority, err := p.i16()
		if err != nil {
			return nil, asError(err)
		}
		if err := r.SetConsumerPriority(consumerID, priority); err != nil {
			return nil, asError(err)
		}
		return nil, nil
	})
}
