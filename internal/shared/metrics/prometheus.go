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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	requestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blood_requests_submitted_total",
			Help: "Total number of blood requests submitted",
		},
		[]string{"blood_type", "priority"},
	)

	requestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blood_request_transitions_total",
			Help: "Total number of blood request status transitions",
		},
		[]string{"from_status", "to_status", "actor_type"},
	)

	requestConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blood_request_conflicts_total",
			Help: "Transitions rejected because another actor got there first",
		},
		[]string{"action", "kind"},
	)

	donationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donations_completed_total",
			Help: "Total number of completed donations",
		},
		[]string{"blood_type"},
	)

	stockUnits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blood_stock_units",
			Help: "Units in stock per hospital and blood type",
		},
		[]string{"hospital", "blood_type"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications delivered",
		},
		[]string{"channel", "level", "status"},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern uses the chi route template ("/api/v1/requests/{id}") so
// request ids do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

// RecordRequestSubmitted records a new blood request
func RecordRequestSubmitted(bloodType, priority string) {
	requestsSubmitted.WithLabelValues(bloodType, priority).Inc()
}

// RecordRequestTransition records a blood request status change
func RecordRequestTransition(fromStatus, toStatus, actorType string) {
	requestTransitions.WithLabelValues(fromStatus, toStatus, actorType).Inc()
}

// RecordRequestConflict records a losing concurrent mutation.
// kind is "version" or "transition".
func RecordRequestConflict(action, kind string) {
	requestConflicts.WithLabelValues(action, kind).Inc()
}

// RecordDonationCompleted records a completed donation
func RecordDonationCompleted(bloodType string) {
	donationsCompleted.WithLabelValues(bloodType).Inc()
}

// RecordStock sets the current units gauge
func RecordStock(hospitalID, bloodType string, units int) {
	stockUnits.WithLabelValues(hospitalID, bloodType).Set(float64(units))
}

// RecordNotification records a notification delivery attempt
func RecordNotification(channel, level string, delivered bool) {
	status := "failed"
	if delivered {
		status = "sent"
	}
	notificationsSent.WithLabelValues(channel, level, status).Inc()
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
