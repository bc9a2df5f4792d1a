package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTranscription(t *testing.T) {
	m := New()
	m.ObserveTranscription("onnx", "success", 0.4, 2.5)
	m.ObserveTranscription("onnx", "success", 0.2, 1.5)
	m.ObserveTranscription("onnx", "error", 0, 0)

	if got := testutil.ToFloat64(m.transcriptions.WithLabelValues("onnx", "success")); got != 2 {
		t.Errorf("success = %v", got)
	}
	if got := testutil.ToFloat64(m.transcriptions.WithLabelValues("onnx", "error")); got != 1 {
		t.Errorf("error = %v", got)
	}
	if got := testutil.ToFloat64(m.audioSeconds.WithLabelValues("onnx")); got != 4 {
		t.Errorf("audio seconds = %v", got)
	}
	if got := testutil.CollectAndCount(m.inference); got != 1 {
		t.Errorf("inference series = %d", got)
	}
}

func TestObserveCacheHitAndRequest(t *testing.T) {
	m := New()
	m.ObserveCacheHit()
	m.ObserveRequest("POST", "/api/v1/transcribe", 200, 0.1)
	m.ObserveRequest("GET", "", 404, 0.001)

	if got := testutil.ToFloat64(m.cacheHits); got != 1 {
		t.Errorf("cache hits = %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched = %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveTranscription("transformers", "success", 1, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`stt_transcriptions_total{model_type="transformers",status="success"} 1`,
		"stt_inference_seconds_bucket",
		"stt_audio_seconds_total",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
