package metrics

import (
	"net/http"
	"strconv"
	"time"

	"sales-pipeline/internal/leads"
	"sales-pipeline/internal/notify"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the API.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	Submissions        *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	Transitions        *prometheus.CounterVec
	NotificationsLost  *prometheus.CounterVec
}

// New creates a Metrics instance on its own registry, with Go and process
// collectors included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		Submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_submissions_total",
				Help: "Stage submissions by stage and outcome",
			},
			[]string{"stage", "outcome"}, // ok, validation, stage_mismatch, not_found, duplicate, error
		),
		SubmissionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lead_submission_duration_seconds",
				Help:    "Time spent in one stage submission transaction",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"stage"},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_stage_transitions_total",
				Help: "Recorded stage changes",
			},
			[]string{"from", "to"},
		),
		NotificationsLost: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_notifications_dropped_total",
				Help: "Post-commit notifications that could not be delivered",
			},
			[]string{"type"},
		),
	}
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ObserveSubmission implements leads.Observer.
func (m *Metrics) ObserveSubmission(stage leads.Stage, outcome string, took time.Duration) {
	s := string(stage)
	if s == "" {
		s = "unknown"
	}
	m.Submissions.WithLabelValues(s, outcome).Inc()
	m.SubmissionDuration.WithLabelValues(s).Observe(took.Seconds())
}

// ObserveTransition implements leads.Observer.
func (m *Metrics) ObserveTransition(from, to leads.Stage) {
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordNotificationDropped is wired as the notify failure hook.
func (m *Metrics) RecordNotificationDropped(t notify.EventType) {
	m.NotificationsLost.WithLabelValues(string(t)).Inc()
}
