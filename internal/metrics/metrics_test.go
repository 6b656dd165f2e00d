package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.SessionEnded("completed")
	m.BlockCaptured(3)
	m.BlocksEnqueued(2)
	m.BlockEvicted()
	m.Upload(true, false, 10, time.Millisecond)
	m.Poll(false, time.Millisecond)
	m.CaptureState("", "stopped")
	m.RecognizeState("", "stopped")
	m.EventDropped()
	m.FeedClients(1)
	m.FeedDropped()
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountersAndGauges(t *testing.T) {
	m := New()

	m.SessionStarted()
	m.BlockCaptured(20)
	m.BlockCaptured(0)
	m.BlocksEnqueued(51)
	m.BlockEvicted()
	m.Upload(true, true, 640, 5*time.Millisecond)
	m.Upload(false, false, 640, 5*time.Millisecond)
	m.Poll(true, time.Millisecond)
	m.SessionEnded("completed")

	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(m.activeSessions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsEnded.WithLabelValues("completed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.blocksCaptured))
	require.Equal(t, 0.0, testutil.ToFloat64(m.micLevel))
	require.Equal(t, 51.0, testutil.ToFloat64(m.blocksEnqueued))
	require.Equal(t, 1.0, testutil.ToFloat64(m.blocksEvicted))
	require.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("ok", "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("error", "false")))
	require.Equal(t, 640.0, testutil.ToFloat64(m.uploadBytes))
	require.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("ok")))
}

func TestStateGaugesTrackCurrentState(t *testing.T) {
	m := New()
	m.CaptureState("", "stopped")
	m.CaptureState("stopped", "recording")

	require.Equal(t, 0.0, testutil.ToFloat64(m.captureState.WithLabelValues("stopped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.captureState.WithLabelValues("recording")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.SessionStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "hark_sessions_started_total 1"))
}
