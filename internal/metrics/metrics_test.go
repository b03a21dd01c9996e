package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.FrameProcessed()
	m.FrameProcessed()
	m.DetectionLogged("shoplifting")
	m.DetectionLogged("normal")
	m.DetectionLogged("normal")
	m.InferenceDone(20*time.Millisecond, nil)
	m.InferenceDone(time.Second, errors.New("timeout"))
	m.SetThroughput(12.5)
	m.AlertDispatched()
	m.AlertSuppressed()
	m.AlertSendFailed("smtp")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Detections.WithLabelValues("normal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InferenceErrors))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.Throughput))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertSendErrors.WithLabelValues("smtp")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "detector_frames_processed_total 2")
	assert.Contains(t, string(body), `detector_detections_total{class="shoplifting"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameProcessed()
		m.DetectionLogged("normal")
		m.InferenceDone(time.Millisecond, nil)
		m.SetThroughput(1)
		m.AlertDispatched()
		m.AlertSuppressed()
		m.AlertSendFailed("mqtt")
	})
}
