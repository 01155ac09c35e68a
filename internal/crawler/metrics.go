package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts crawl outcomes for the Prometheus endpoint.
type Metrics struct {
	PagesCrawled  prometheus.Counter
	CrawlFailures *prometheus.CounterVec
	PagesSkipped  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
}

// NewMetrics registers the crawler metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesCrawled: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_crawled_total",
			Help: "Pages fetched, parsed, and submitted for indexing.",
		}),
		CrawlFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_failures_total",
			Help: "Crawl failures by reason.",
		}, []string{"reason"}),
		PagesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_skipped_total",
			Help: "Pages skipped before fetch completion, by reason.",
		}, []string{"reason"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Wall time of page fetches.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
