package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	submissionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "submissions",
			Name:      "created_total",
			Help:      "Submissions accepted, by waste category.",
		},
		[]string{"category"},
	)

	submissionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "submissions",
			Name:      "transitions_total",
			Help:      "Submission state transitions, by target status.",
		},
		[]string{"status"},
	)

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries written, by kind.",
		},
		[]string{"kind"},
	)

	ledgerPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Absolute points moved through the ledger, by kind.",
		},
		[]string{"kind"},
	)

	settlementCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards",
			Subsystem: "settlement",
			Name:      "call_duration_seconds",
			Help:      "Latency of settlement gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"op", "outcome"},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "reconcile",
			Name:      "submissions_total",
			Help:      "Submissions processed by the reconciliation sweep, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		submissionsCreated,
		submissionTransitions,
		ledgerEntries,
		ledgerPoints,
		settlementCalls,
		reconcileRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Routes are labelled with chi's route pattern so ids do not explode cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordSubmissionCreated(category string) {
	submissionsCreated.WithLabelValues(category).Inc()
}

func RecordTransition(status string) {
	submissionTransitions.WithLabelValues(status).Inc()
}

func RecordLedgerEntry(kind string, delta int64) {
	if delta < 0 {
		delta = -delta
	}
	ledgerEntries.WithLabelValues(kind).Inc()
	ledgerPoints.WithLabelValues(kind).Add(float64(delta))
}

// RecordSettlementCall records the latency of one gateway call.
func RecordSettlementCall(op, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	settlementCalls.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

func RecordReconcile(result string, count int) {
	if count <= 0 {
		return
	}
	reconcileRuns.WithLabelValues(result).Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
