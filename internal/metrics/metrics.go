// Package metrics exposes Prometheus collectors for the API and worker.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stt"

type Metrics struct {
	registry *prometheus.Registry

	transcriptions *prometheus.CounterVec
	inference      *prometheus.HistogramVec
	audioSeconds   *prometheus.CounterVec
	cacheHits      prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers the service collectors on a fresh registry along with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcriptions by backend and outcome.",
		}, []string{"model_type", "status"}),
		inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_seconds",
			Help:      "Model inference wall time.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model_type"}),
		audioSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Seconds of audio transcribed.",
		}, []string{"model_type"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Transcriptions served from the cache.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transcriptions,
		m.inference,
		m.audioSeconds,
		m.cacheHits,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) ObserveTranscription(modelType, status string, inferenceSeconds, audioSeconds float64) {
	m.transcriptions.WithLabelValues(modelType, status).Inc()
	if status != "success" {
		return
	}
	m.inference.WithLabelValues(modelType).Observe(inferenceSeconds)
	m.audioSeconds.WithLabelValues(modelType).Add(audioSeconds)
}

func (m *Metrics) ObserveCacheHit() {
	m.cacheHits.Inc()
}

func (m *Metrics) ObserveRequest(method, route string, code int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
