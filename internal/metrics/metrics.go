package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forum_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"}, // "success", "invalid"
	)

	Registrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forum_registrations_total",
			Help: "Successful registrations",
		},
	)

	ContentCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_content_created_total",
			Help: "Rows created by content kind",
		},
		[]string{"kind"}, // "topic", "post", "message"
	)

	LikeToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_like_toggles_total",
			Help: "Like toggles by resulting state",
		},
		[]string{"state"}, // "liked", "unliked"
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_job_runs_total",
			Help: "Background job runs by job and result",
		},
		[]string{"job", "result"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The route label is the chi
// pattern so ids in paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
