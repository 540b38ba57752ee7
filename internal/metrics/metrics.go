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

// Fetch attempt outcomes.
const (
	FetchSuccess   = "success"
	FetchRetry     = "retry"
	FetchStatus    = "status"
	FetchExhausted = "exhausted"
	FetchCanceled  = "canceled"
)

var (
	fetchAttemptsTotal            *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	extractorRunsTotal            *prometheus.CounterVec
	extractorDurationSeconds      *prometheus.HistogramVec
	recordsTotal                  *prometheus.CounterVec
	persistTotal                  *prometheus.CounterVec
	proxyPoolSize                 *prometheus.GaugeVec
	passInProgress                prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		extractorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_extractor_runs_total",
				Help: "Extractor runs, labeled by extractor and terminal status.",
			},
			[]string{"extractor", "status"},
		)

		extractorDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_extractor_duration_seconds",
				Help:    "Wall time of one extractor run through the pipeline.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"extractor"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Records seen at each pipeline stage, labeled by extractor and stage.",
			},
			[]string{"extractor", "stage"},
		)

		persistTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_persist_batches_total",
				Help: "Persistence attempts, labeled by path and outcome.",
			},
			[]string{"path", "outcome"},
		)

		proxyPoolSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_proxy_pool_size",
				Help: "Proxies in the identity pool, labeled by status.",
			},
			[]string{"status"},
		)

		passInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_pass_in_progress",
				Help: "1 while an orchestrator pass is running.",
			},
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

// ObserveFetch records one fetch attempt against target.
func ObserveFetch(target, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(target)
	fetchAttemptsTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveExtractorRun records the terminal status and duration of an extractor run.
func ObserveExtractorRun(extractor, status string, elapsed time.Duration) {
	Init()
	extractorRunsTotal.WithLabelValues(extractor, status).Inc()
	extractorDurationSeconds.WithLabelValues(extractor).Observe(elapsed.Seconds())
}

// AddRecords counts records that reached a pipeline stage.
func AddRecords(extractor, stage string, n int) {
	if n <= 0 {
		return
	}
	Init()
	recordsTotal.WithLabelValues(extractor, stage).Add(float64(n))
}

// ObservePersist records a persistence attempt on one path.
func ObservePersist(path string, ok bool) {
	Init()
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	persistTotal.WithLabelValues(path, outcome).Inc()
}

// SetProxyPool publishes the current identity pool composition.
func SetProxyPool(active, inactive int) {
	Init()
	proxyPoolSize.WithLabelValues("active").Set(float64(active))
	proxyPoolSize.WithLabelValues("inactive").Set(float64(inactive))
}

// SetPassInProgress flips the in-progress gauge.
func SetPassInProgress(running bool) {
	Init()
	if running {
		passInProgress.Set(1)
		return
	}
	passInProgress.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
