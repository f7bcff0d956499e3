package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Create failure reasons.
const (
	failureAuth    = "auth"
	failureImage   = "image"
	failureParent  = "parent"
	failureStorage = "storage"
)

// Metrics holds the Prometheus collectors of one server. Each Metrics owns its
// registry, so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	StoriesCreated prometheus.Counter
	CreateFailures *prometheus.CounterVec
	ImageDuration  *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		StoriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_created_total",
			Help:      "Total number of story nodes created",
		}),
		CreateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "story_create_failures_total",
			Help:      "Story creations that failed, by reason",
		}, []string{"reason"}),
		ImageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_pipeline_duration_seconds",
			Help:      "Image download and upload duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"outcome"}),
	}
	registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.StoriesCreated,
		m.CreateFailures,
		m.ImageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveImage matches imaging.Options.Observe.
func (m *Metrics) ObserveImage(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ImageDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) storyCreated() {
	if m == nil {
		return
	}
	m.StoriesCreated.Inc()
}

func (m *Metrics) createFailed(reason string) {
	if m == nil {
		return
	}
	m.CreateFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
