// Package metrics exposes Prometheus collectors for the job crawler.
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

// Card outcomes recorded by ObserveCard.
const (
	CardInserted  = "inserted"
	CardDuplicate = "duplicate"
	CardFailed    = "failed"
	CardSkipped   = "skipped"
)

var (
	crawlerPagesTotal              *prometheus.CounterVec
	crawlerCardsTotal              *prometheus.CounterVec
	crawlerRunsTotal               *prometheus.CounterVec
	crawlerScanRetriesTotal        prometheus.Counter
	crawlerDiagnosticsTotal        prometheus.Counter
	crawlerPublishFailuresTotal    prometheus.Counter
	crawlerNavigationDelaysSeconds *prometheus.HistogramVec
	crawlerDetailDurationSeconds   prometheus.Histogram
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_listing_pages_total",
				Help: "Total number of listing pages visited, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerCardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_cards_total",
				Help: "Total number of job cards processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_runs_total",
				Help: "Total number of crawl runs, labeled by final state and stop reason.",
			},
			[]string{"state", "reason"},
		)

		crawlerScanRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_scan_retries_total",
				Help: "Total number of listing scans that found no cards and were retried.",
			},
		)

		crawlerDiagnosticsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_diagnostics_total",
				Help: "Total number of diagnostic page snapshots written.",
			},
		)

		crawlerPublishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_publish_failures_total",
				Help: "Total number of new-posting events that failed to publish.",
			},
		)

		crawlerNavigationDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_navigation_delays_seconds",
				Help:    "Histogram of rate limit waits before navigation.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		crawlerDetailDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_detail_duration_seconds",
				Help:    "Histogram of time spent loading and extracting one detail page.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
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

// ObserveListingPage counts a listing page visit.
func ObserveListingPage(site string) {
	Init()
	crawlerPagesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveCard counts one processed card.
func ObserveCard(outcome string) {
	Init()
	crawlerCardsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun counts a finished crawl run.
func ObserveRun(state, reason string) {
	Init()
	crawlerRunsTotal.WithLabelValues(state, reason).Inc()
}

// ObserveScanRetry counts an empty listing scan that will be retried.
func ObserveScanRetry() {
	Init()
	crawlerScanRetriesTotal.Inc()
}

// ObserveDiagnostic counts a diagnostic snapshot.
func ObserveDiagnostic() {
	Init()
	crawlerDiagnosticsTotal.Inc()
}

// ObservePublishFailure counts a failed event publish.
func ObservePublishFailure() {
	Init()
	crawlerPublishFailuresTotal.Inc()
}

// ObserveNavigationDelay records the duration of a rate limit wait.
func ObserveNavigationDelay(site string, duration time.Duration) {
	Init()
	crawlerNavigationDelaysSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveDetail records how long one detail page took end to end.
func ObserveDetail(duration time.Duration) {
	Init()
	crawlerDetailDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
