// Package metrics exposes Prometheus instruments for the exam session engine.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_sessions_started_total",
			Help: "Total number of exam sessions admitted",
		},
	)

	StartRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_session_start_rejections_total",
			Help: "Total number of rejected exam session starts",
		},
		[]string{"reason"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Total number of graded submissions by terminal status",
		},
		[]string{"status"},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_sessions_expired_total",
			Help: "Total number of abandoned sessions moved to TIMEOUT",
		},
	)

	GradeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_grade_duration_seconds",
			Help:    "Time spent grading one submission",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	ListingFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_listing_fallbacks_total",
			Help: "Total number of listings served from the fallback cache",
		},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_notifications_total",
			Help: "Total number of session notifications by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exam_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
