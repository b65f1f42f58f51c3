// Package metrics exposes Prometheus metrics for the archive service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skyarchive"

// Metrics contains all counters and histograms recorded by the service.
type Metrics struct {
	Uploads         *prometheus.CounterVec
	Likes           prometheus.Counter
	Reports         prometheus.Counter
	Flags           prometheus.Counter
	Moderations     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry. A nil registry gets
// a fresh one with the Go and process collectors.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	}
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register archive metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Upload attempts by outcome.",
	}, []string{"outcome"})

	m.Likes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "likes_total",
		Help:      "Accepted likes.",
	})

	m.Reports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_total",
		Help:      "Accepted reports.",
	})

	m.Flags = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_flagged_total",
		Help:      "Reports that left the photo flagged.",
	})

	m.Moderations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_actions_total",
		Help:      "Moderation actions applied by administrators.",
	}, []string{"action"})

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route, method and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
}

func (m *Metrics) UploadResult(outcome string) { m.Uploads.WithLabelValues(outcome).Inc() }
func (m *Metrics) Liked()                      { m.Likes.Inc() }
func (m *Metrics) Moderated(action string)     { m.Moderations.WithLabelValues(action).Inc() }

// Reported counts a report, and a flag when the photo ended up flagged.
func (m *Metrics) Reported(flagged bool) {
	m.Reports.Inc()
	if flagged {
		m.Flags.Inc()
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Uploads.Describe(ch)
	ch <- m.Likes.Desc()
	ch <- m.Reports.Desc()
	ch <- m.Flags.Desc()
	m.Moderations.Describe(ch)
	m.RequestDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Uploads.Collect(ch)
	ch <- m.Likes
	ch <- m.Reports
	ch <- m.Flags
	m.Moderations.Collect(ch)
	m.RequestDuration.Collect(ch)
}
