package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "alaska"
	metricsSubsystem = "scraper"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	Records         *prometheus.CounterVec
	ListingPages    prometheus.Counter
	ProductURLs     prometheus.Gauge
	Retries         prometheus.Counter
	Errors          *prometheus.CounterVec
}

// NewMetrics registers every collector on a registry of its own, so tests
// and repeated runs never collide with the global one.
func NewMetrics() *Metrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help}
	}

	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("requests_total", "Requests issued, by crawl phase (listing, detail, api).")),
			[]string{"phase"},
		),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Latency of page and API requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("records_total", "Product records extracted, by extraction strategy.")),
			[]string{"extractor"},
		),
		ListingPages: prometheus.NewCounter(
			prometheus.CounterOpts(opts("listing_pages_total", "Catalog listing pages parsed.")),
		),
		ProductURLs: prometheus.NewGauge(
			prometheus.GaugeOpts(opts("product_urls", "Unique product URLs queued for the detail phase.")),
		),
		Retries: prometheus.NewCounter(
			prometheus.CounterOpts(opts("retries_total", "Retry attempts made by the fetcher.")),
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("errors_total", "Pages given up on, by error type.")),
			[]string{"error_type"},
		),
	}
	m.Registry.MustRegister(m.Requests, m.RequestDuration, m.Records, m.ListingPages, m.ProductURLs, m.Retries, m.Errors)
	return m
}

// All methods are no-ops on a nil *Metrics.

// IncRequest counts one request in the given phase.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(phase).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRecords counts one extracted product.
func (m *Metrics) IncRecords(extractor string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(extractor).Inc()
}

// IncListingPages counts one parsed listing page.
func (m *Metrics) IncListingPages() {
	if m == nil {
		return
	}
	m.ListingPages.Inc()
}

// SetProductURLs reports the size of the detail queue.
func (m *Metrics) SetProductURLs(n int) {
	if m == nil {
		return
	}
	m.ProductURLs.Set(float64(n))
}

// IncRetries counts one retry attempt.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// IncError counts one abandoned page.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(errorType).Inc()
}
