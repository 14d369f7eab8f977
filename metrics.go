package livevoice

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Reasons a captured frame never reaches the endpoint.
const (
	DropReasonMuted        = "muted"
	DropReasonNotOpen      = "not_open"
	DropReasonEncode       = "encode"
	DropReasonBackpressure = "backpressure"
)

// Metrics holds the Prometheus collectors of the voice pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FramesCaptured  prometheus.Counter
	ChunksSent      prometheus.Counter
	ChunksDropped   *prometheus.CounterVec
	ChunksReceived  prometheus.Counter
	DecodeFailures  prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "livevoice"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Microphone frames delivered to the session loop",
		}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Encoded audio chunks handed to the transport",
		}),
		ChunksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Captured frames that were not sent",
		}, []string{"reason"}),
		ChunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Audio payloads received from the endpoint",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound audio payloads skipped as malformed",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Voice sessions currently running",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Voice sessions ended, by terminal state",
		}, []string{"state"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Voice session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
	}
	registry.MustRegister(
		m.FramesCaptured,
		m.ChunksSent,
		m.ChunksDropped,
		m.ChunksReceived,
		m.DecodeFailures,
		m.SessionsActive,
		m.SessionsEnded,
		m.SessionDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FastHTTPHandler serves the registry in the Prometheus text format.
func (m *Metrics) FastHTTPHandler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) recordFrame() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) recordSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

func (m *Metrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordReceived() {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
}

func (m *Metrics) recordDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

func (m *Metrics) recordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) recordSessionEnd(state ControllerState, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(state.String()).Inc()
	m.SessionDuration.Observe(d.Seconds())
}
