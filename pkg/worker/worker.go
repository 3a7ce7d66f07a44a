package worker

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"

	"github.com/ionworker/worker/pkg/buffer"
	"github.com/ionworker/worker/pkg/channel"
	"github.com/ionworker/worker/pkg/dtls"
	"github.com/ionworker/worker/pkg/ice"
	"github.com/ionworker/worker/pkg/observer"
	"github.com/ionworker/worker/pkg/portmgr"
	"github.com/ionworker/worker/pkg/producer"
	"github.com/ionworker/worker/pkg/router"
	"github.com/ionworker/worker/pkg/stats"
	"github.com/ionworker/worker/pkg/transport"
	"github.com/ionworker/worker/pkg/webrtcserver"
)

// Worker is the top-level process container spec.md §2/§6 describes: it owns the
// control Channel, the PortManager, the shared WebRtcServer, every Router the
// controller has created, and the ticking clock that drives WebRtcTransport ICE
// liveness checks and the two Observer types (no RTCP reports are scheduled from
// it). Structured after the teacher's SFU type (pkg/sfu/sfu.go):
// one struct holding every long-lived collaborator, built once in a constructor and
// torn down by one Close.
type Worker struct {
	mu sync.Mutex

	settings Settings
	log      logr.Logger

	certs        *dtls.Certificates
	portMgr      *portmgr.Manager
	webrtcServer *webrtcserver.Server
	ch           *channel.Channel
	factory      *buffer.Factory

	routers map[string]*router.Router

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup

	tickables []tickable
}

// tickable is the narrow capability the Worker's own clock drives every
// TickInterval: WebRtcTransport and both Observer types already implement it
// (ICE liveness checks and observer updates).
type tickable interface {
	Tick(now time.Time)
}

// New loads (or generates) the process-wide DTLS certificate, binds the shared
// WebRtcServer when SharedWebrtcSocket is set, and wires the control Channel's
// method handlers; it does not start the tick loop -- call Run for that.
func New(settings Settings, log logr.Logger, ch *channel.Channel) (*Worker, error) {
	var certs *dtls.Certificates
	var err error
	if settings.DtlsCertificateFile != "" {
		certs, err = dtls.LoadCertificates(settings.DtlsCertificateFile, settings.DtlsPrivateKeyFile)
	} else {
		certs, err = dtls.GlobalCertificates()
	}
	if err != nil {
		return nil, fmt.Errorf("worker: loading certificates: %w", err)
	}

	if settings.WithStats {
		stats.Enable()
	}

	pm := portmgr.New(settings.RtcMinPort, settings.RtcMaxPort)

	var server *webrtcserver.Server
	if settings.SharedWebrtcSocket {
		server, err = webrtcserver.New(pm, settings.ListenIPs, log)
		if err != nil {
			return nil, fmt.Errorf("worker: binding webrtc server: %w", err)
		}
	}

	w := &Worker{
		settings:     settings,
		log:          log,
		certs:        certs,
		portMgr:      pm,
		webrtcServer: server,
		ch:           ch,
		factory:      buffer.NewBufferFactory(100, log),
		routers:      make(map[string]*router.Router),
		stop:         make(chan struct{}),
	}

	w.registerWorkerHandlers()
	return w, nil
}

// Run starts the tick loop and the Channel's blocking read loop, returning when
// the Channel closes (spec.md §4.1: "controller closing its end is the fatal
// shutdown signal"). Callers run this on its own goroutine or as main's last call.
func (w *Worker) Run() error {
	w.ticker = time.NewTicker(w.settings.TickInterval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case now := <-w.ticker.C:
				w.tick(now)
			case <-w.stop:
				return
			}
		}
	}()

	return w.ch.Run()
}

func (w *Worker) tick(now time.Time) {
	w.mu.Lock()
	ticking := make([]tickable, len(w.tickables))
	copy(ticking, w.tickables)
	w.mu.Unlock()
	for _, t := range ticking {
		t.Tick(now)
	}
}

// addTickable registers t (a WebRtcTransport or Observer) with the Worker's clock.
func (w *Worker) addTickable(t tickable) {
	w.mu.Lock()
	w.tickables = append(w.tickables, t)
	w.mu.Unlock()
}

// AddObserver wires an ActiveSpeakerObserver/AudioLevelObserver into the tick
// loop through addTickable, for callers outside this package; the
// router.createAudioLevelObserver/router.createActiveSpeakerObserver handlers in
// methods.go call addTickable directly.
func (w *Worker) AddObserver(o tickable) {
	w.addTickable(o)
}

var _ tickable = (*observer.ActiveSpeakerObserver)(nil)
var _ tickable = (*observer.AudioLevelObserver)(nil)
var _ tickable = (*transport.WebRtcTransport)(nil)

// Close stops the tick loop and tears down the shared WebRtcServer and every
// Router's Transports. Idempotent.
func (w *Worker) Close() error {
	select {
	case <-w.stop:
		return nil
	default:
	}
	close(w.stop)
	if w.ticker != nil {
		w.ticker.Stop()
	}
	w.wg.Wait()

	w.mu.Lock()
	routers := w.routers
	w.mu.Unlock()
	for _, r := range routers {
		_ = r.Close()
	}
	if w.webrtcServer != nil {
		return w.webrtcServer.Close()
	}
	return nil
}

// OnProducerTrace implements router.TraceListener: relays one Producer trace
// event (spec.md §3's enableTraceEvent hook) as a Notification addressed to the
// producer that emitted it.
func (w *Worker) OnProducerTrace(producerID string, event producer.TraceEventType, ssrc uint32) {
	body := &paramsWriter{}
	body.str(event.String())
	body.u32(ssrc)
	_ = w.ch.Notify(&channel.Notification{TargetID: producerID, Event: "trace", Body: body.bytes()})
}

// OnAudioLevelVolumes/OnAudioLevelSilence/OnActiveSpeakerDominantSpeaker
// implement router.ObserverListener, relaying each RtpObserver notification
// (spec.md §4.11) as a Notification addressed to the observer's own id.
func (w *Worker) OnAudioLevelVolumes(observerID string, volumes []observer.VolumeEntry) {
	body := &paramsWriter{}
	body.u16(uint16(len(volumes)))
	for _, v := range volumes {
		body.str(v.ProducerID)
		body.i8(int(v.Volume))
	}
	_ = w.ch.Notify(&channel.Notification{TargetID: observerID, Event: "volumes", Body: body.bytes()})
}

func (w *Worker) OnAudioLevelSilence(observerID string) {
	_ = w.ch.Notify(&channel.Notification{TargetID: observerID, Event: "silence"})
}

func (w *Worker) OnActiveSpeakerDominantSpeaker(observerID, producerID string) {
	body := &paramsWriter{}
	body.str(producerID)
	_ = w.ch.Notify(&channel.Notification{TargetID: observerID, Event: "dominantspeaker", Body: body.bytes()})
}

// webrtcBridge adapts one Router into transport.Listener for exactly the
// WebRtcTransports that Router owns, forwarding decrypted RTP/RTCP to
// Router.DeliverRtp/DeliverRtcp and surfacing ICE state + close back onto the
// control Channel as notifications (spec.md §4.1's notification class).
type webrtcBridge struct {
	w *Worker
	r *router.Router
}

func (b *webrtcBridge) OnTransportReceiveRtp(t *transport.WebRtcTransport, pkt []byte) {
	if err := b.r.DeliverRtp(t.ID(), pkt); err != nil {
		b.w.log.V(1).Info("dropping rtp packet", "transport", t.ID(), "error", err.Error())
	}
}

func (b *webrtcBridge) OnTransportReceiveRtcp(t *transport.WebRtcTransport, packets []rtcp.Packet) {
	b.r.DeliverRtcp(t.ID(), packets)
}

func (b *webrtcBridge) OnTransportIceStateChange(t *transport.WebRtcTransport, state ice.State) {
	body := (&paramsWriter{})
	body.str(state.String())
	_ = b.w.ch.Notify(&channel.Notification{TargetID: t.ID(), Event: "icestatechange", Body: body.bytes()})
}

func (b *webrtcBridge) OnTransportClose(t *transport.WebRtcTransport) {
	if b.w.webrtcServer != nil {
		b.w.webrtcServer.UnregisterTransport(t, t.UsernameFragment())
	}
	b.w.ch.UnregisterTarget(t.ID())
}

// plainBridge/directBridge mirror webrtcBridge for the two Transport variants
// that never run ICE/DTLS; neither emits an icestatechange notification since
// neither has an IceServer.
type plainBridge struct {
	w *Worker
	r *router.Router
}

func (b *plainBridge) OnTransportReceiveRtp(t *transport.PlainTransport, pkt []byte) {
	if err := b.r.DeliverRtp(t.ID(), pkt); err != nil {
		b.w.log.V(1).Info("dropping rtp packet", "transport", t.ID(), "error", err.Error())
	}
}
func (b *plainBridge) OnTransportReceiveRtcp(t *transport.PlainTransport, packets []rtcp.Packet) {
	b.r.DeliverRtcp(t.ID(), packets)
}
func (b *plainBridge) OnTransportClose(t *transport.PlainTransport) { b.w.ch.UnregisterTarget(t.ID()) }

type pipeBridge struct {
	w *Worker
	r *router.Router
}

func (b *pipeBridge) OnTransportReceiveRtp(t *transport.PipeTransport, pkt []byte) {
	if err := b.r.DeliverRtp(t.ID(), pkt); err != nil {
		b.w.log.V(1).Info("dropping rtp packet", "transport", t.ID(), "error", err.Error())
	}
}
func (b *pipeBridge) OnTransportReceiveRtcp(t *transport.PipeTransport, packets []rtcp.Packet) {
	b.r.DeliverRtcp(t.ID(), packets)
}
func (b *pipeBridge) OnTransportClose(t *transport.PipeTransport) { b.w.ch.UnregisterTarget(t.ID()) }

type directBridge struct {
	w *Worker
	r *router.Router
}

func (b *directBridge) OnTransportReceiveRtp(t *transport.DirectTransport, pkt []byte) {
	if err := b.r.DeliverRtp(t.ID(), pkt); err != nil {
		b.w.log.V(1).Info("dropping rtp packet", "transport", t.ID(), "error", err.Error())
	}
}
func (b *directBridge) OnTransportReceiveRtcp(t *transport.DirectTransport, packets []rtcp.Packet) {
	b.r.DeliverRtcp(t.ID(), packets)
}
func (b *directBridge) OnTransportSendRtp(t *transport.DirectTransport, raw []byte)   {}
func (b *directBridge) OnTransportSendRtcp(t *transport.DirectTransport, raw []byte)  {}
func (b *directBridge) OnTransportClose(t *transport.DirectTransport)                 { b.w.ch.UnregisterTarget(t.ID()) }

// freeListenIP picks the first configured listen address for Plain/Pipe
// transports that bind their own socket instead of sharing webrtcServer's.
func (w *Worker) freeListenIP() net.IP {
	if len(w.settings.ListenIPs) == 0 {
		return net.IPv4(127, 0, 0, 1)
	}
	return w.settings.ListenIPs[0]
}
