package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transition outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	registerOnce sync.Once

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courseflow_transitions_total",
			Help: "Course transitions by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	pendingCountersignTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courseflow_pending_countersign_total",
		Help: "Records that reached approved status before the central reviewer approved.",
	})

	queueResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courseflow_queue_result_size",
			Help:    "Rows returned by work queue queries.",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
		[]string{"queue", "role"},
	)

	outboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courseflow_outbox_messages_total",
			Help: "Outbox messages handled by the relay, by result.",
		},
		[]string{"result"},
	)

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

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			transitionsTotal,
			pendingCountersignTotal,
			queueResults,
			outboxPublished,
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveTransition(operation, outcome string) {
	transitionsTotal.WithLabelValues(operation, outcome).Inc()
}

func ObservePendingCountersign() {
	pendingCountersignTotal.Inc()
}

func ObserveQueue(queue, role string, size int) {
	queueResults.WithLabelValues(queue, role).Observe(float64(size))
}

func ObserveOutbox(result string) {
	outboxPublished.WithLabelValues(result).Inc()
}

func HTTPStarted() {
	httpInFlight.Inc()
}

func HTTPFinished(method, path, status string, seconds float64) {
	httpRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpInFlight.Dec()
}
