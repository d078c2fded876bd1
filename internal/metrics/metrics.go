// Package metrics exposes detection and delivery counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghostlayer/server/internal/detector"
)

var confidenceBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	Detections   *prometheus.CounterVec
	Confidence   prometheus.Histogram
	ProbeFired   *prometheus.CounterVec
	Precheck     *prometheus.CounterVec
	PixelEvents  *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Detections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostlayer_detections_total",
			Help: "Full detections by verdict",
		}, []string{"verdict"}),
		Confidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ghostlayer_detection_confidence",
			Help:    "Confidence of full detections",
			Buckets: confidenceBuckets,
		}),
		ProbeFired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostlayer_probe_fired_total",
			Help: "Probes that reported bot evidence",
		}, []string{"probe"}),
		Precheck: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostlayer_precheck_total",
			Help: "Quick pre-checks by verdict",
		}, []string{"verdict"}),
		PixelEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostlayer_pixel_events_total",
			Help: "Conversion events delivered to ad platforms",
		}, []string{"platform", "status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostlayer_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "status"}),
	}
}

func verdictLabel(isBot bool) string {
	if isBot {
		return "bot"
	}
	return "human"
}

func (m *Metrics) ObserveDetection(res *detector.Result) {
	if m == nil || res == nil {
		return
	}
	m.Detections.WithLabelValues(verdictLabel(res.IsBot)).Inc()
	m.Confidence.Observe(float64(res.Confidence))
	for name, c := range res.Checks {
		if c.IsBot {
			m.ProbeFired.WithLabelValues(name).Inc()
		}
	}
}

func (m *Metrics) ObservePrecheck(isBot bool) {
	if m == nil {
		return
	}
	m.Precheck.WithLabelValues(verdictLabel(isBot)).Inc()
}

func (m *Metrics) ObservePixel(platform string, success bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !success {
		status = "failed"
	}
	m.PixelEvents.WithLabelValues(platform, status).Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
