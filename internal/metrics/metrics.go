// Package metrics exposes Prometheus collectors for capture sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hark"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	blocksCaptured prometheus.Counter
	blocksEnqueued prometheus.Counter
	blocksEvicted  prometheus.Counter
	micLevel       prometheus.Gauge

	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	uploadDuration prometheus.Histogram

	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram

	captureState   *prometheus.GaugeVec
	recognizeState *prometheus.GaugeVec
	droppedEvents  prometheus.Counter

	feedClients prometheus.Gauge
	feedDropped prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Recognition sessions started.",
		}),
		sessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Recognition sessions ended, by outcome.",
		}, []string{"outcome"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions whose workers are still running.",
		}),

		blocksCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_captured_total",
			Help:      "Audio blocks read from the source.",
		}),
		blocksEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_enqueued_total",
			Help:      "Audio blocks handed to the upload stage.",
		}),
		blocksEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_evicted_total",
			Help:      "Pre-speech blocks dropped from the lead-in ring.",
		}),
		micLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mic_level",
			Help:      "Most recent mic level (0-30).",
		}),

		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload flushes, by status and finality.",
		}, []string{"status", "final"}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Encoded audio bytes uploaded.",
		}),
		uploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Upload call latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Result polls, by status.",
		}, []string{"status"}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Poll call latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		captureState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_state",
			Help:      "1 for the current capture state.",
		}, []string{"state"}),
		recognizeState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recognize_state",
			Help:      "1 for the current recognize state.",
		}, []string{"state"}),
		droppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events dropped because the listener buffer was full.",
		}),
		feedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Connected event feed observers.",
		}),
		feedDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_total",
			Help:      "Event feed observers disconnected for falling behind.",
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(outcome).Inc()
	m.activeSessions.Dec()
}

func (m *Metrics) BlockCaptured(level int) {
	if m == nil {
		return
	}
	m.blocksCaptured.Inc()
	m.micLevel.Set(float64(level))
}

func (m *Metrics) BlocksEnqueued(n int) {
	if m == nil {
		return
	}
	m.blocksEnqueued.Add(float64(n))
}

func (m *Metrics) BlockEvicted() {
	if m == nil {
		return
	}
	m.blocksEvicted.Inc()
}

func (m *Metrics) Upload(ok bool, final bool, bytes int, took time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(status(ok), boolLabel(final)).Inc()
	if ok {
		m.uploadBytes.Add(float64(bytes))
	}
	m.uploadDuration.Observe(took.Seconds())
}

func (m *Metrics) Poll(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(status(ok)).Inc()
	m.pollDuration.Observe(took.Seconds())
}

// CaptureState marks state as current, clearing the previous one.
func (m *Metrics) CaptureState(prev, next string) {
	if m == nil {
		return
	}
	if prev != "" {
		m.captureState.WithLabelValues(prev).Set(0)
	}
	m.captureState.WithLabelValues(next).Set(1)
}

func (m *Metrics) RecognizeState(prev, next string) {
	if m == nil {
		return
	}
	if prev != "" {
		m.recognizeState.WithLabelValues(prev).Set(0)
	}
	m.recognizeState.WithLabelValues(next).Set(1)
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

// FeedClients adjusts the connected observer gauge by delta.
func (m *Metrics) FeedClients(delta int) {
	if m == nil {
		return
	}
	m.feedClients.Add(float64(delta))
}

func (m *Metrics) FeedDropped() {
	if m == nil {
		return
	}
	m.feedDropped.Inc()
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
