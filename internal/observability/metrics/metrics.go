// Package metrics exposes server metrics via Prometheus's client library
// instead of a hand-rolled exposition writer: a Recorder owns a private
// prometheus.Registry so tests can construct an isolated one, while
// Default shares a single registry (and the standard /metrics
// conventions promauto/promhttp give every Prometheus consumer for free)
// across the process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates every metric the acceptor, resource manager, and
// configuration engine report.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	connectionsTotal *prometheus.CounterVec
	activeConns      *prometheus.GaugeVec
	admissionRejects *prometheus.CounterVec
	reloadsTotal     *prometheus.CounterVec
	ingestAttempts   *prometheus.CounterVec
	ingestFailures   *prometheus.CounterVec
	transcoderJobs   *prometheus.CounterVec
	activeTranscoder prometheus.Gauge
}

var defaultRecorder = New()

// New constructs a Recorder registered against a fresh prometheus.Registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_http_requests_total",
			Help: "Total number of HTTP requests processed by internal/admin endpoints.",
		}, []string{"method", "path", "status"}),
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tidecast_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		connectionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_connections_total",
			Help: "Total connections accepted, by listener kind.",
		}, []string{"listener"}),
		activeConns: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidecast_active_connections",
			Help: "Current number of tracked connections, by listener kind.",
		}, []string{"listener"}),
		admissionRejects: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_admission_rejections_total",
			Help: "Connections rejected by admission control, by reason.",
		}, []string{"reason"}),
		reloadsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_config_reloads_total",
			Help: "Configuration reloads, by outcome.",
		}, []string{"outcome"}),
		ingestAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_ingest_attempts_total",
			Help: "Ingest process launch attempts, by vhost.",
		}, []string{"vhost"}),
		ingestFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_ingest_failures_total",
			Help: "Ingest process launch failures, by vhost.",
		}, []string{"vhost"}),
		transcoderJobs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_transcoder_jobs_total",
			Help: "Transcoder job events, by kind and status.",
		}, []string{"kind", "status"}),
		activeTranscoder: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tidecast_transcoder_active_jobs",
			Help: "Current number of active transcoder jobs.",
		}),
	}
	reg.MustRegister(prometheus.NewGoCollector())
	return r
}

// Default returns the process-wide Recorder.
func Default() *Recorder { return defaultRecorder }

// ObserveRequest records one HTTP request's outcome.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"path":   normalizePath(path),
		"status": statusLabel(status),
	}
	r.requestsTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

// ConnectionAccepted records a newly accepted connection for listener.
func (r *Recorder) ConnectionAccepted(listener string) {
	r.connectionsTotal.WithLabelValues(listener).Inc()
	r.activeConns.WithLabelValues(listener).Inc()
}

// ConnectionClosed records a connection leaving the active set for
// listener (disposed by the sweeper or torn down by shutdown).
func (r *Recorder) ConnectionClosed(listener string) {
	r.activeConns.WithLabelValues(listener).Dec()
}

// AdmissionRejected records a connection denied by admission control.
func (r *Recorder) AdmissionRejected(reason string) {
	r.admissionRejects.WithLabelValues(reason).Inc()
}

// ReloadAccepted records a successful configuration reload.
func (r *Recorder) ReloadAccepted() {
	r.reloadsTotal.WithLabelValues("accepted").Inc()
}

// ReloadRejected records a reload that was aborted (invalid config or a
// subscriber rejection).
func (r *Recorder) ReloadRejected() {
	r.reloadsTotal.WithLabelValues("rejected").Inc()
}

// ObserveIngestAttempt records an ingest process launch attempt for vhost.
func (r *Recorder) ObserveIngestAttempt(vhost string) {
	r.ingestAttempts.WithLabelValues(vhost).Inc()
}

// ObserveIngestFailure records an ingest process launch failure for vhost.
func (r *Recorder) ObserveIngestFailure(vhost string) {
	r.ingestFailures.WithLabelValues(vhost).Inc()
}

// TranscoderJobStarted records the start of a transcoder job of the given
// kind and increments the active job gauge.
func (r *Recorder) TranscoderJobStarted(kind string) {
	r.transcoderJobs.WithLabelValues(kind, "start").Inc()
	r.activeTranscoder.Inc()
}

// TranscoderJobCompleted records completion and decrements the active
// job gauge.
func (r *Recorder) TranscoderJobCompleted(kind string) {
	r.transcoderJobs.WithLabelValues(kind, "complete").Inc()
	r.activeTranscoder.Dec()
}

// TranscoderJobFailed records a failure and decrements the active job
// gauge.
func (r *Recorder) TranscoderJobFailed(kind string) {
	r.transcoderJobs.WithLabelValues(kind, "fail").Inc()
	r.activeTranscoder.Dec()
}

// Handler exposes the Recorder's registry via the standard Prometheus
// text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// normalizePath collapses path segments that look like identifiers so
// per-connection or per-stream paths don't create unbounded label
// cardinality.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segments := splitPath(path)
	for i, seg := range segments {
		if looksLikeIdentifier(seg) {
			segments[i] = ":id"
		}
	}
	return "/" + joinPath(segments)
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segs = append(segs, path[start:])
	}
	return segs
}

func joinPath(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digits := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 3
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
