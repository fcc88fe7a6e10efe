// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal      *prometheus.CounterVec
	itemsParsedTotal       *prometheus.CounterVec
	itemsFailedTotal       *prometheus.CounterVec
	itemsEnqueuedTotal     *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	headlessPromotionTotal prometheus.Counter
	runsTotal              *prometheus.CounterVec
	queueDepth             *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. It is safe to call
// more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_fetched_total",
				Help: "Total pages fetched, labeled by stage and status class.",
			},
			[]string{"stage", "status"},
		)

		itemsParsedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_parsed_total",
				Help: "Total queue items parsed and stored, labeled by stage.",
			},
			[]string{"stage"},
		)

		itemsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_failed_total",
				Help: "Total queue items that failed an attempt, labeled by stage.",
			},
			[]string{"stage"},
		)

		itemsEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_enqueued_total",
				Help: "Total references enqueued, labeled by stage.",
			},
			[]string{"stage"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"stage"},
		)

		headlessPromotionTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_headless_promotions_total",
				Help: "Total fetches promoted to headless rendering.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_queue_depth",
				Help: "Current queue depth, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one page fetch.
func ObserveFetch(stage string, statusClass string, duration time.Duration) {
	pagesFetchedTotal.WithLabelValues(stage, statusClass).Inc()
	fetchDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveParsed increments the parsed counter for a stage.
func ObserveParsed(stage string) {
	itemsParsedTotal.WithLabelValues(stage).Inc()
}

// ObserveFailed increments the failed counter for a stage.
func ObserveFailed(stage string) {
	itemsFailedTotal.WithLabelValues(stage).Inc()
}

// ObserveEnqueued adds to the enqueued counter for a stage.
func ObserveEnqueued(stage string, count int) {
	if count > 0 {
		itemsEnqueuedTotal.WithLabelValues(stage).Add(float64(count))
	}
}

// ObserveHeadlessPromotion counts one promotion to headless rendering.
func ObserveHeadlessPromotion() {
	headlessPromotionTotal.Inc()
}

// ObserveRun counts a completed pipeline run by outcome.
func ObserveRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current depth of one queue status bucket.
func SetQueueDepth(stage, status string, depth int64) {
	queueDepth.WithLabelValues(stage, status).Set(float64(depth))
}

// StatusClass buckets an HTTP status code ("2xx", "4xx", ...).
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
