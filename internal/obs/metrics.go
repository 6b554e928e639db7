package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain counters.
var (
	// AllocationValidations counts validator outcomes by result label
	// (valid, exceeds-refund, negative-amount).
	AllocationValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_validations_total",
			Help: "Refund allocation validation outcomes.",
		},
		[]string{"result"},
	)

	// AllocationTransitions counts lifecycle transitions that were persisted.
	AllocationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_transitions_total",
			Help: "Refund allocation lifecycle transitions.",
		},
		[]string{"from", "to"},
	)

	// OffersEvaluated counts bank products considered during eligibility listings.
	OffersEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "product_offers_evaluated_total",
			Help: "Bank products evaluated for eligibility.",
		},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		AllocationValidations, AllocationTransitions, OffersEvaluated,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses resource identifiers so metric labels stay low
// cardinality: /v1/allocations/<id>/submit becomes /v1/allocations/:id/submit.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	replace := func(prefix []string, idIdx int) bool {
		if len(parts) <= idIdx {
			return false
		}
		for i, p := range prefix {
			if parts[i] != p {
				return false
			}
		}
		return true
	}
	switch {
	case replace([]string{"", "v1", "allocations"}, 3) && parts[3] != "":
		parts[3] = ":id"
	case replace([]string{"", "v1", "providers"}, 3) && parts[3] != "":
		parts[3] = ":id"
	}
	return strings.Join(parts, "/")
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
