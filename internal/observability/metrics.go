package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "warncal"

// Metrics holds the Prometheus collectors for the warning pipeline.
type Metrics struct {
	// Cycle metrics.
	CyclesTotal      *prometheus.CounterVec // labels: outcome={success,error,empty}
	CycleDuration    prometheus.Histogram
	SchedulerRunning prometheus.Gauge

	// Feed metrics.
	FeedRequests     *prometheus.CounterVec // labels: outcome={success,error}
	WarningsFetched  prometheus.Counter
	WarningsInWindow prometheus.Counter
	FeedDiscarded    prometheus.Counter

	// Dispatch metrics.
	EventsCreated prometheus.Counter
	EventErrors   prometheus.Counter
	LedgerSkips   prometheus.Counter
	UserErrors    prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: method={forward,reverse}, result={hit,miss}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many
// as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Warning cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one fetch and dispatch cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the background scheduler is running.",
		}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "Warning feed requests by outcome.",
		}, []string{"outcome"}),
		WarningsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_fetched_total",
			Help:      "Distinct warnings returned by the feed.",
		}),
		WarningsInWindow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_in_window_total",
			Help:      "Warnings kept after the time window filter.",
		}),
		FeedDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_records_discarded_total",
			Help:      "Feed records dropped during normalization.",
		}),
		EventsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_events_created_total",
			Help:      "Calendar events created and recorded in the ledger.",
		}),
		EventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_event_errors_total",
			Help:      "Failed calendar event creations or ledger writes.",
		}),
		LedgerSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_skips_total",
			Help:      "Warnings skipped because they were already dispatched.",
		}),
		UserErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_errors_total",
			Help:      "Users whose dispatch failed within a cycle.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CyclesTotal,
		m.CycleDuration,
		m.SchedulerRunning,
		m.FeedRequests,
		m.WarningsFetched,
		m.WarningsInWindow,
		m.FeedDiscarded,
		m.EventsCreated,
		m.EventErrors,
		m.LedgerSkips,
		m.UserErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
	}
}
