// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesCrawledTotal    *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	httpFallbacksTotal   *prometheus.CounterVec
	embedBatchesTotal    *prometheus.CounterVec
	embedQueueDepth      prometheus.Gauge
	chunksIndexedTotal   *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitefeeder_pages_total",
				Help: "Total number of pages processed, labeled by domain and status.",
			},
			[]string{"domain", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitefeeder_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by domain.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitefeeder_http_fallbacks_total",
				Help: "Total number of fetches that succeeded only after downgrading to HTTP.",
			},
			[]string{"domain"},
		)

		embedBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitefeeder_embed_batches_total",
				Help: "Total number of embedding batches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		embedQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitefeeder_embed_queue_depth",
				Help: "Number of page IDs waiting in the embedding queue.",
			},
		)

		chunksIndexedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitefeeder_chunks_indexed_total",
				Help: "Total number of chunks written to the index, labeled by domain.",
			},
			[]string{"domain"},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a URL or bare domain.
// It returns "unknown" if the input cannot be parsed.
func SanitizeDomain(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one processed page.
func ObservePage(domain, status string) {
	pagesCrawledTotal.WithLabelValues(SanitizeDomain(domain), status).Inc()
}

// ObserveFetch records the latency of one fetch.
func ObserveFetch(domain string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(SanitizeDomain(domain)).Observe(duration.Seconds())
}

// ObserveHTTPFallback records a fetch that needed the plain-HTTP retry.
func ObserveHTTPFallback(domain string) {
	httpFallbacksTotal.WithLabelValues(SanitizeDomain(domain)).Inc()
}

// ObserveEmbedBatch records the outcome of one embedding batch.
func ObserveEmbedBatch(outcome string) {
	embedBatchesTotal.WithLabelValues(outcome).Inc()
}

// SetEmbedQueueDepth updates the queue depth gauge.
func SetEmbedQueueDepth(depth int) {
	embedQueueDepth.Set(float64(depth))
}

// ObserveChunksIndexed records chunks written to the index.
func ObserveChunksIndexed(domain string, count int) {
	if count > 0 {
		chunksIndexedTotal.WithLabelValues(SanitizeDomain(domain)).Add(float64(count))
	}
}
