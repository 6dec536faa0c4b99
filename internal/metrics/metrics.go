// Package metrics exposes Prometheus collectors for the image refresher and its HTTP API.
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

// Fetch outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	imageBytes                 prometheus.Gauge
	lastSuccessTimestamp       prometheus.Gauge
	consecutiveFailures        prometheus.Gauge
	sideEffectErrorsTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satview_fetch_attempts_total",
				Help: "Total number of image fetch attempts, labeled by provider host and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satview_fetch_duration_seconds",
				Help:    "Histogram of image fetch latencies, labeled by outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		imageBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "satview_image_bytes",
				Help: "Size of the image currently being served.",
			},
		)

		lastSuccessTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "satview_last_success_timestamp_seconds",
				Help: "Unix time of the last successful refresh.",
			},
		)

		consecutiveFailures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "satview_consecutive_failures",
				Help: "Number of failed refresh attempts since the last success.",
			},
		)

		sideEffectErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satview_side_effect_errors_total",
				Help: "Errors from best-effort steps after a refresh, labeled by step.",
			},
			[]string{"step"},
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
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

// ObserveFetch records one fetch attempt against the provider behind rawURL.
func ObserveFetch(rawURL string, success bool, duration time.Duration) {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveImage records the size and fetch time of the image now being served.
func ObserveImage(size int, fetchedAt time.Time) {
	imageBytes.Set(float64(size))
	lastSuccessTimestamp.Set(float64(fetchedAt.Unix()))
}

// SetConsecutiveFailures updates the failure streak gauge.
func SetConsecutiveFailures(n int) {
	consecutiveFailures.Set(float64(n))
}

// ObserveSideEffectError counts a failed persist, publish, or history write.
func ObserveSideEffectError(step string) {
	sideEffectErrorsTotal.WithLabelValues(step).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
