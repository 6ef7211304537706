// Package metrics exposes relay activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

type Collector struct {
	registry          *prometheus.Registry
	sessionsActive    prometheus.Gauge
	sessionsTotal     *prometheus.CounterVec
	framesRelayed     *prometheus.CounterVec
	bytesRelayed      *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	framesBuffered    prometheus.Counter
	handshakeDuration prometheus.Histogram
}

// NewCollector registers the relay collectors, plus the Go runtime and
// process collectors, on a registry of its own.
func NewCollector() *Collector {
	m := &Collector{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Browser connections currently held by the relay",
			},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finished sessions by outcome",
			},
			[]string{"outcome"},
		),
		framesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_relayed_total",
				Help:      "Frames forwarded between browser and upstream",
			},
			[]string{"direction"},
		),
		bytesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_relayed_total",
				Help:      "Payload bytes forwarded between browser and upstream",
			},
			[]string{"direction"},
		),
		framesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_dropped_total",
				Help:      "Malformed frames discarded",
			},
			[]string{"direction"},
		),
		framesBuffered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_buffered_total",
				Help:      "Browser frames queued while the upstream handshake was pending",
			},
		),
		handshakeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_handshake_seconds",
				Help:      "Time from upstream dial to completed handshake",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.framesRelayed,
		m.bytesRelayed,
		m.framesDropped,
		m.framesBuffered,
		m.handshakeDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Collector) SessionOpened() {
	m.sessionsActive.Inc()
}

// SessionRejected counts a connection refused before it became a session.
func (m *Collector) SessionRejected() {
	m.sessionsTotal.WithLabelValues("rejected").Inc()
}

func (m *Collector) SessionClosed(outcome string) {
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Collector) FrameRelayed(direction string, size int) {
	m.framesRelayed.WithLabelValues(direction).Inc()
	if size > 0 {
		m.bytesRelayed.WithLabelValues(direction).Add(float64(size))
	}
}

func (m *Collector) FrameDropped(direction string) {
	m.framesDropped.WithLabelValues(direction).Inc()
}

func (m *Collector) FrameBuffered() {
	m.framesBuffered.Inc()
}

func (m *Collector) HandshakeCompleted(d time.Duration) {
	m.handshakeDuration.Observe(d.Seconds())
}

// Handler serves the collector registry in the Prometheus exposition format.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Collector) Registry() *prometheus.Registry {
	return m.registry
}
