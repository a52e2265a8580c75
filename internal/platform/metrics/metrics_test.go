package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_nil_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests()
	m.RelayStarted()
	m.AddRelayFrames(3)
	m.IncCaptureCycle(ResultOK)
	m.AddAssetsUploaded("frames", 2)
	m.IncSigningFailures()
}

func TestMetrics_capture_and_relay(t *testing.T) {
	m := New()
	m.IncCaptureCycle(ResultFramesOnly)
	m.IncCaptureCycle(ResultFramesOnly)
	m.AddAssetsUploaded("frames", 8)
	m.RelayStarted()
	m.RelayStarted()
	m.RelayEnded()

	if got := testutil.ToFloat64(m.captureCyclesTotal.WithLabelValues(ResultFramesOnly)); got != 2 {
		t.Errorf("expected 2 frames_only cycles, got %v", got)
	}
	if got := testutil.ToFloat64(m.assetsUploadedTotal.WithLabelValues("frames")); got != 8 {
		t.Errorf("expected 8 frames, got %v", got)
	}
	if got := testutil.ToFloat64(m.relaySessions); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
}

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := testutil.ToFloat64(m.errorsTotal); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "streamer_requests_total 1") {
		t.Errorf("expected request counter in exposition: %s", rec.Body.String())
	}
}
