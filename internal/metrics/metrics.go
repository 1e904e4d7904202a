// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerJobsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          *prometheus.GaugeVec
	crawlerLaneDepth              *prometheus.GaugeVec
	crawlerProductsTotal          *prometheus.CounterVec
	crawlerReviewsTotal           *prometheus.CounterVec
	crawlerReviewSyncsTotal       *prometheus.CounterVec
	crawlerDiscoveredTotal        *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of upstream requests, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of lane jobs processed, labeled by lane and outcome.",
			},
			[]string{"lane", "outcome"},
		)

		crawlerActiveWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a job, labeled by lane.",
			},
			[]string{"lane"},
		)

		crawlerLaneDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_lane_jobs",
				Help: "Jobs held in each lane registry.",
			},
			[]string{"lane", "registry"},
		)

		crawlerProductsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_products_total",
				Help: "Product crawl outcomes.",
			},
			[]string{"outcome"},
		)

		crawlerReviewsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_reviews_total",
				Help: "Review rows seen during sync, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		crawlerReviewSyncsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_review_syncs_total",
				Help: "Per-source review syncs, labeled by terminal state.",
			},
			[]string{"source", "state"},
		)

		crawlerDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_discovered_items_total",
				Help: "Detail URLs discovered from search pages, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Ops API requests, labeled by method, route pattern and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one upstream request.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveJob increments the job counter for the given lane and outcome.
func ObserveJob(lane, outcome string) {
	Init()
	crawlerJobsTotal.WithLabelValues(lane, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(lane string) {
	Init()
	crawlerActiveWorkers.WithLabelValues(lane).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(lane string) {
	Init()
	crawlerActiveWorkers.WithLabelValues(lane).Dec()
}

// SetLaneDepth publishes the size of each lane registry.
func SetLaneDepth(lane string, pending, processing, started, failed int64) {
	Init()
	crawlerLaneDepth.WithLabelValues(lane, "pending").Set(float64(pending))
	crawlerLaneDepth.WithLabelValues(lane, "processing").Set(float64(processing))
	crawlerLaneDepth.WithLabelValues(lane, "started").Set(float64(started))
	crawlerLaneDepth.WithLabelValues(lane, "failed").Set(float64(failed))
}

// ObserveProduct counts a product document outcome.
func ObserveProduct(outcome string) {
	Init()
	crawlerProductsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReviews counts review rows by source and outcome.
func ObserveReviews(source, outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlerReviewsTotal.WithLabelValues(source, outcome).Add(float64(n))
}

// ObserveReviewSync counts a finished per-source review sync.
func ObserveReviewSync(source, state string) {
	Init()
	crawlerReviewSyncsTotal.WithLabelValues(source, state).Inc()
}

// ObserveDiscovered counts discovered detail URLs.
func ObserveDiscovered(outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlerDiscoveredTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
