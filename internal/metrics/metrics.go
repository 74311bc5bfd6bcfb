package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DocumentsAdded counts documents added per index, fed by index monitors
	DocumentsAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexflow_documents_added_total",
			Help: "Total number of documents added to the search backend",
		},
		[]string{"index"},
	)

	// Requests counts backend requests by kind (single, bulk) and outcome
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexflow_requests_total",
			Help: "Total number of requests sent to the search backend",
		},
		[]string{"kind", "outcome"},
	)

	// RequestLatency tracks backend request latency by kind
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexflow_request_latency_seconds",
			Help:    "Search backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Works counts executed works by action and outcome
	Works = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexflow_works_total",
			Help: "Total number of works executed",
		},
		[]string{"action", "outcome"},
	)

	// BulkSize tracks the number of works per materialized bulk
	BulkSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexflow_bulk_size",
			Help:    "Number of works per bulk request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Cycles counts background batching cycles
	Cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexflow_cycles_total",
			Help: "Total number of batching cycles run",
		},
	)

	// Changesets counts changesets by outcome
	Changesets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexflow_changesets_total",
			Help: "Total number of changesets processed",
		},
		[]string{"outcome"},
	)

	// FailureReports counts failure reports delivered to the error handler
	FailureReports = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexflow_failure_reports_total",
			Help: "Total number of failure reports",
		},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(DocumentsAdded)
		prometheus.MustRegister(Requests)
		prometheus.MustRegister(RequestLatency)
		prometheus.MustRegister(Works)
		prometheus.MustRegister(BulkSize)
		prometheus.MustRegister(Cycles)
		prometheus.MustRegister(Changesets)
		prometheus.MustRegister(FailureReports)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome returns the outcome label for err.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
