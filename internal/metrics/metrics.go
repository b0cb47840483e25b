// Package metrics exposes Prometheus collectors for the archiver service.
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
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	artifactBytesTotal         *prometheus.CounterVec
	navigationTimeoutsTotal    prometheus.Counter
	runsTotal                  *prometheus.CounterVec
	analyzerRequestsTotal      *prometheus.CounterVec
	activeSessions             prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_captures_total",
				Help: "Total number of capture attempts, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_capture_duration_seconds",
				Help:    "Histogram of per-URL capture latencies, labeled by status.",
				Buckets: []float64{1, 5, 10, 30, 60, 90, 120},
			},
			[]string{"status"},
		)

		artifactBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_artifact_bytes_total",
				Help: "Total number of PDF bytes archived, labeled by site.",
			},
			[]string{"site"},
		)

		navigationTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_navigation_timeouts_total",
				Help: "Total navigations that exceeded their budget and were force-stopped.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_runs_total",
				Help: "Total number of pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		analyzerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_analyzer_requests_total",
				Help: "Total number of image analyzer calls, labeled by feature and status.",
			},
			[]string{"feature", "status"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_sessions",
				Help: "Number of rendering sessions currently open.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delay_seconds",
				Help:    "Time navigations spent waiting on the per-host budget.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"site"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120},
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
	return promhttp.Handler()
}

// ObserveCapture records one capture attempt.
func ObserveCapture(site, status string, bytesArchived int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	capturesTotal.WithLabelValues(sanitizedSite, status).Inc()
	captureDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	if bytesArchived > 0 {
		artifactBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesArchived))
	}
}

// ObserveNavigationTimeout increments the forced-stop counter.
func ObserveNavigationTimeout() {
	Init()
	navigationTimeoutsTotal.Inc()
}

// ObserveRun increments the run counter for the given outcome.
func ObserveRun(outcome string) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAnalyzerRequest increments the analyzer counter.
func ObserveAnalyzerRequest(feature, status string) {
	Init()
	analyzerRequestsTotal.WithLabelValues(feature, status).Inc()
}

// IncActiveSessions increments the open sessions gauge.
func IncActiveSessions() {
	Init()
	activeSessions.Inc()
}

// DecActiveSessions decrements the open sessions gauge.
func DecActiveSessions() {
	Init()
	activeSessions.Dec()
}

// ObserveRateLimitDelay records time spent waiting for a host's budget.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
