// Package stats exposes Prometheus counters/gauges for session/router/transport/
// producer/consumer counts and RTP byte accounting, gated by an Enable/Disable toggle
// the same way the teacher gates its own `stats.InitStats()` call off
// `Config.SFU.WithStats` (`pkg/sfu/sfu.go`). Generalizes that single `stats.Sessions`
// gauge into the fuller set of counters spec.md §8's "byte accounting" invariant
// implies, grounded further by friendsincode-grimnir_radio's and
// pion-webrtc/examples/sfu-ws's `prometheus/client_golang` + `promhttp` wiring.
package stats

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Transports = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_transports",
		Help: "Number of Transports currently open.",
	})
	Producers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_producers",
		Help: "Number of Producers currently open.",
	})
	Consumers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_consumers",
		Help: "Number of Consumers currently open.",
	})
	DataProducers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_data_producers",
		Help: "Number of DataProducers currently open.",
	})
	DataConsumers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_data_consumers",
		Help: "Number of DataConsumers currently open.",
	})
	RtpBytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_rtp_bytes_sent_total",
		Help: "Cumulative payload bytes handed to Consumer send paths, spec.md §8's bytesSent invariant.",
	})
	RtpBytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_rtp_bytes_received_total",
		Help: "Cumulative payload bytes accepted by Producer receive paths.",
	})
	NacksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_nacks_sent_total",
		Help: "Cumulative NACK RTCP packets forwarded to a Producer's owning Transport.",
	})
	KeyFrameRequestsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_keyframe_requests_sent_total",
		Help: "Cumulative PLI/FIR requests forwarded to a Producer's owning Transport.",
	})

	all = []prometheus.Collector{
		Transports, Producers, Consumers, DataProducers, DataConsumers,
		RtpBytesSent, RtpBytesReceived, NacksSent, KeyFrameRequestsSent,
	}

	registerOnce sync.Once
	enabled      atomic.Bool
)

// Enable registers every collector with the default Prometheus registry and turns on
// the Inc/Dec/Add helpers below; a second call is a no-op (MustRegister would panic on
// a duplicate registration otherwise). Mirrors the teacher calling stats.InitStats()
// exactly once, from inside the same `if c.SFU.WithStats` guard this package's callers
// are expected to use.
func Enable() {
	registerOnce.Do(func() {
		prometheus.MustRegister(all...)
	})
	enabled.Store(true)
}

// Disable turns the Inc/Dec/Add helpers back into no-ops without unregistering the
// collectors (Prometheus registration isn't reversible without also invalidating any
// promhttp.Handler already handed out).
func Disable() {
	enabled.Store(false)
}

// Enabled reports whether Enable has been called more recently than Disable.
func Enabled() bool {
	return enabled.Load()
}

// Handler serves the registered collectors in the Prometheus text exposition format,
// the same /metrics handler pion-webrtc/examples/sfu-ws mounts via promhttp.Handler().
func Handler() http.Handler {
	return promhttp.Handler()
}

func incGauge(g prometheus.Gauge) {
	if enabled.Load() {
		g.Inc()
	}
}

func decGauge(g prometheus.Gauge) {
	if enabled.Load() {
		g.Dec()
	}
}

// TransportOpened/TransportClosed/... below are the call-site helpers Router invokes;
// each is a no-op unless Enable has been called, so the Router's instrumentation calls
// never need their own `if stats.Enabled()` guard.

func TransportOpened() { incGauge(Transports) }
func TransportClosed() { decGauge(Transports) }

func ProducerOpened() { incGauge(Producers) }
func ProducerClosed() { decGauge(Producers) }

func ConsumerOpened() { incGauge(Consumers) }
func ConsumerClosed() { decGauge(Consumers) }

func DataProducerOpened() { incGauge(DataProducers) }
func DataProducerClosed() { decGauge(DataProducers) }

func DataConsumerOpened() { incGauge(DataConsumers) }
func DataConsumerClosed() { decGauge(DataConsumers) }

// AddRtpBytesSent/AddRtpBytesReceived record payload byte counts; n is the number of
// bytes, not packets, matching spec.md §8's "bytesSent equals the sum over time of
// payload lengths passed to send".
func AddRtpBytesSent(n int) {
	if enabled.Load() && n > 0 {
		RtpBytesSent.Add(float64(n))
	}
}

func AddRtpBytesReceived(n int) {
	if enabled.Load() && n > 0 {
		RtpBytesReceived.Add(float64(n))
	}
}

func IncNacksSent() {
	if enabled.Load() {
		NacksSent.Inc()
	}
}

func IncKeyFrameRequestsSent() {
	if enabled.Load() {
		KeyFrameRequestsSent.Inc()
	}
}
