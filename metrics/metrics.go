package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the recorder's Prometheus collector. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	sessionFailures *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	chunksCaptured    prometheus.Counter
	bytesCaptured     prometheus.Counter
	recordingDuration prometheus.Histogram

	framesComposited prometheus.Counter
	compositeAborts  prometheus.Counter
	renderDuration   prometheus.Histogram

	exports         *prometheus.CounterVec
	exportFallbacks *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
}

// New creates the collector on its own registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		sessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screencap_sessions_started_total",
			Help: "Recording sessions that reached the recording state",
		}, []string{"mode"}),

		sessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screencap_session_failures_total",
			Help: "Recording sessions that ended in an error",
		}, []string{"reason"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screencap_sessions_active",
			Help: "Sessions currently recording or paused",
		}),

		chunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "screencap_chunks_captured_total",
			Help: "Encoded chunks collected from the encoder",
		}),

		bytesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "screencap_captured_bytes_total",
			Help: "Encoded bytes collected from the encoder",
		}),

		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "screencap_recording_duration_seconds",
			Help:    "Active duration of finished recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		framesComposited: factory.NewCounter(prometheus.CounterOpts{
			Name: "screencap_frames_composited_total",
			Help: "Frames written by the compositing pipeline",
		}),

		compositeAborts: factory.NewCounter(prometheus.CounterOpts{
			Name: "screencap_composite_aborts_total",
			Help: "Composite renders that were aborted",
		}),

		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "screencap_render_duration_seconds",
			Help:    "Wall time of completed composite renders",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screencap_exports_total",
			Help: "Exports by requested and delivered format",
		}, []string{"requested", "delivered"}),

		exportFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screencap_export_fallbacks_total",
			Help: "Exports delivered in the original container instead of the requested format",
		}, []string{"requested"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screencap_deliveries_total",
			Help: "Files written to the download directory",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collected metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(mode).Inc()
	m.activeSessions.Inc()
}

// SessionEnded marks a session that was recording as finished, successfully or not
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) SessionFailed(reason string) {
	if m == nil {
		return
	}
	m.sessionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ChunkCaptured(size int) {
	if m == nil {
		return
	}
	m.chunksCaptured.Inc()
	m.bytesCaptured.Add(float64(size))
}

func (m *Metrics) RecordingFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.recordingDuration.Observe(duration.Seconds())
}

func (m *Metrics) FrameComposited() {
	if m == nil {
		return
	}
	m.framesComposited.Inc()
}

func (m *Metrics) CompositeAborted() {
	if m == nil {
		return
	}
	m.compositeAborts.Inc()
}

func (m *Metrics) RenderFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(duration.Seconds())
}

func (m *Metrics) Exported(requested, delivered string, fallback bool) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(requested, delivered).Inc()
	if fallback {
		m.exportFallbacks.WithLabelValues(requested).Inc()
	}
}

func (m *Metrics) Delivered(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.deliveries.WithLabelValues(result).Inc()
}
