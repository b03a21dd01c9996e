package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the detector's Prometheus collectors.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	FramesProcessed  prometheus.Counter
	Detections       *prometheus.CounterVec
	InferenceErrors  prometheus.Counter
	InferenceLatency prometheus.Histogram
	Throughput       prometheus.Gauge
	AlertsDispatched prometheus.Counter
	AlertsSuppressed prometheus.Counter
	AlertSendErrors  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_frames_processed_total",
			Help: "Total frames pulled from the video source",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_detections_total",
			Help: "Detections appended to the log, by class",
		}, []string{"class"}),
		InferenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_inference_errors_total",
			Help: "Frames skipped because inference failed",
		}),
		InferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detector_inference_latency_seconds",
			Help:    "Detector round trip per frame",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		Throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "detector_throughput_fps",
			Help: "Frames per second over the last reporting window",
		}),
		AlertsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_alerts_dispatched_total",
			Help: "Alerts handed to the transports",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_alerts_suppressed_total",
			Help: "Alert candidates dropped by the cooldown",
		}),
		AlertSendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_alert_send_errors_total",
			Help: "Failed alert deliveries, by transport",
		}, []string{"transport"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.Detections,
		m.InferenceErrors,
		m.InferenceLatency,
		m.Throughput,
		m.AlertsDispatched,
		m.AlertsSuppressed,
		m.AlertSendErrors,
	)
	return m
}

func (m *Metrics) FrameProcessed() {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
}

func (m *Metrics) DetectionLogged(class string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(class).Inc()
}

// InferenceDone records latency and, when err is set, a skipped frame
func (m *Metrics) InferenceDone(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.InferenceLatency.Observe(took.Seconds())
	if err != nil {
		m.InferenceErrors.Inc()
	}
}

func (m *Metrics) SetThroughput(fps float64) {
	if m == nil {
		return
	}
	m.Throughput.Set(fps)
}

func (m *Metrics) AlertDispatched() {
	if m == nil {
		return
	}
	m.AlertsDispatched.Inc()
}

func (m *Metrics) AlertSuppressed() {
	if m == nil {
		return
	}
	m.AlertsSuppressed.Inc()
}

func (m *Metrics) AlertSendFailed(transport string) {
	if m == nil {
		return
	}
	m.AlertSendErrors.WithLabelValues(transport).Inc()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
