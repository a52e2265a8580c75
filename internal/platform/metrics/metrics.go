package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Capture cycle outcomes used as the "result" label.
const (
	ResultOK         = "ok"
	ResultFramesOnly = "frames_only"
	ResultPartial    = "partial"
	ResultFailed     = "failed"
	ResultBusy       = "busy"
)

// Metrics holds Prometheus counters and gauges for the streamer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	relaySessions        prometheus.Gauge
	relayFramesTotal     prometheus.Counter
	captureCyclesTotal   *prometheus.CounterVec
	assetsUploadedTotal  *prometheus.CounterVec
	signingFailuresTotal prometheus.Counter
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		relaySessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_relay_sessions",
			Help: "Number of live MJPEG relay sessions",
		}),
		relayFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_relay_frames_total",
			Help: "Total number of JPEG frames written to relay clients",
		}),
		captureCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_capture_cycles_total",
			Help: "Capture cycles by result",
		}, []string{"result"}),
		assetsUploadedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_assets_uploaded_total",
			Help: "Assets uploaded to object storage by kind",
		}, []string{"kind"}),
		signingFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_signing_failures_total",
			Help: "Total number of signed URL issuance failures",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.relaySessions,
		m.relayFramesTotal,
		m.captureCyclesTotal,
		m.assetsUploadedTotal,
		m.signingFailuresTotal,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// RelayStarted and RelayEnded track the active session gauge.
func (m *Metrics) RelayStarted() {
	if m != nil {
		m.relaySessions.Inc()
	}
}

func (m *Metrics) RelayEnded() {
	if m != nil {
		m.relaySessions.Dec()
	}
}

// AddRelayFrames adds n relayed frames.
func (m *Metrics) AddRelayFrames(n int) {
	if m != nil && n > 0 {
		m.relayFramesTotal.Add(float64(n))
	}
}

// IncCaptureCycle records one capture cycle outcome.
func (m *Metrics) IncCaptureCycle(result string) {
	if m != nil {
		m.captureCyclesTotal.WithLabelValues(result).Inc()
	}
}

// AddAssetsUploaded adds n uploaded assets of the given kind.
func (m *Metrics) AddAssetsUploaded(kind string, n int) {
	if m != nil && n > 0 {
		m.assetsUploadedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// IncSigningFailures increments the signing failure counter.
func (m *Metrics) IncSigningFailures() {
	if m != nil {
		m.signingFailuresTotal.Inc()
	}
}

// Registry exposes the private registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
