package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	OutcomesTotal       *prometheus.CounterVec
	CrawlDuration       *prometheus.HistogramVec
	ChangedRecords      *prometheus.CounterVec
	FetchesTotal        *prometheus.CounterVec
	FetchedBytes        *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
}

// New registers the metrics with reg. Tests pass a fresh registry so that
// repeated construction does not panic on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served by the admin API.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of admin API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		OutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_outcomes_total",
			Help: "Crawl attempts by final state and failure cause.",
		}, []string{"kind", "state", "cause"}),
		CrawlDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_crawl_duration_seconds",
			Help:    "Duration of one crawl attempt.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"site", "kind"}),
		ChangedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_changed_records_total",
			Help: "Records detected as new or changed.",
		}, []string{"site", "kind"}),
		FetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Outbound page fetches by result.",
		}, []string{"result"}),
		FetchedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetched_bytes_total",
			Help: "Bytes received from EC sites.",
		}, []string{"site"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_active_sessions",
			Help: "Traffic sessions opened and not yet finished.",
		}),
	}
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveOutcome(kind, state, cause string) {
	m.OutcomesTotal.WithLabelValues(kind, state, cause).Inc()
}
