// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal           *prometheus.CounterVec
	bytesTotal           *prometheus.CounterVec
	retriesTotal         *prometheus.CounterVec
	rejectionsTotal      *prometheus.CounterVec
	circuitOpensTotal    *prometheus.CounterVec
	headlessFetchesTotal prometheus.Counter
	fetchDurationSeconds *prometheus.HistogramVec
	activeWorkers        prometheus.Gauge
	frontierDepth        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_pages_total",
				Help: "Pages with a terminal outcome, labeled by domain and status code.",
			},
			[]string{"domain", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_bytes_total",
				Help: "Bytes fetched, labeled by domain.",
			},
			[]string{"domain"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_retries_total",
				Help: "Retry attempts, labeled by error kind.",
			},
			[]string{"kind"},
		)

		rejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_frontier_rejections_total",
				Help: "Frontier admissions rejected, labeled by reason.",
			},
			[]string{"reason"},
		)

		circuitOpensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_circuit_opens_total",
				Help: "Circuit breaker open transitions, labeled by domain.",
			},
			[]string{"domain"},
		)

		headlessFetchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "collector_headless_fetches_total",
				Help: "Fetches promoted to the headless browser.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by domain.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"domain"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_active_workers",
				Help: "Workers currently processing a frontier entry.",
			},
		)

		frontierDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_frontier_admitted",
				Help: "Entries admitted to the frontier so far.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records a terminal page outcome.
func ObservePage(domain string, status int, bytesFetched int) {
	pagesTotal.WithLabelValues(domain, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(domain).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one retry attempt for an error kind.
func ObserveRetry(kind string) {
	retriesTotal.WithLabelValues(kind).Inc()
}

// ObserveRejection counts a frontier policy rejection.
func ObserveRejection(reason string) {
	rejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveCircuitOpen counts a breaker opening for a domain.
func ObserveCircuitOpen(domain string) {
	circuitOpensTotal.WithLabelValues(domain).Inc()
}

// ObserveHeadlessFetch counts a promotion to the browser fetcher.
func ObserveHeadlessFetch() {
	headlessFetchesTotal.Inc()
}

// ObserveFetchDuration records one fetch latency.
func ObserveFetchDuration(domain string, elapsed time.Duration) {
	fetchDurationSeconds.WithLabelValues(domain).Observe(elapsed.Seconds())
}

// IncActiveWorkers marks a worker busy.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers marks a worker idle.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// SetFrontierAdmitted publishes the frontier admission count.
func SetFrontierAdmitted(n int) {
	frontierDepth.Set(float64(n))
}
