// Package metrics exposes Prometheus counters for the HTTP surface and the
// receipt pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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

// Pipeline metrics
var (
	receiptsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_processed_total",
			Help: "Receipts reconciled and split, by split mode.",
		},
		[]string{"mode"},
	)

	discountsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_discounts_total",
			Help: "Discounts seen on reconciled receipts, by attribution state.",
		},
		[]string{"state"},
	)

	totalMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipt_total_mismatch_total",
		Help: "Receipts whose printed total differs from the computed total.",
	})

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "receipt_stage_duration_seconds",
			Help:    "Duration of receipt pipeline stages in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			receiptsProcessed, discountsTotal, totalMismatches, stageDuration,
		)
	})
}

// Handler serves the Prometheus scrape endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records rate, latency and in-flight requests
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := routePath(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// routePath prefers the mux route template so ids do not explode label cardinality
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return CanonicalPath(r.URL.Path)
}

// CanonicalPath collapses receipt ids in a raw path
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "receipts" {
		parts[2] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

// ObserveStage records how long one pipeline stage took
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordReceipt counts a processed receipt
func RecordReceipt(mode string) {
	if mode == "" {
		mode = "none"
	}
	receiptsProcessed.WithLabelValues(mode).Inc()
}

// RecordDiscounts counts attributed and floating discounts
func RecordDiscounts(attributed, floating int) {
	if attributed > 0 {
		discountsTotal.WithLabelValues("attributed").Add(float64(attributed))
	}
	if floating > 0 {
		discountsTotal.WithLabelValues("floating").Add(float64(floating))
	}
}

// RecordTotalMismatch counts a printed/computed total disagreement
func RecordTotalMismatch() {
	totalMismatches.Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
