// Package metrics exposes Prometheus collectors for the harvester service.
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
	harvesterFetchesTotal        *prometheus.CounterVec
	harvesterBytesTotal          *prometheus.CounterVec
	harvesterDocumentsTotal      *prometheus.CounterVec
	harvesterPhaseRunsTotal      *prometheus.CounterVec
	harvesterCapReachedTotal     prometheus.Counter
	harvesterOCRChargesTotal     *prometheus.CounterVec
	harvesterOCRDurationSeconds  prometheus.Histogram
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	harvesterJobsTotal           *prometheus.CounterVec
	harvesterActiveWorkers       prometheus.Gauge
	harvesterRateLimitDelaysSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of registry fetches, labeled by site, stage and status.",
			},
			[]string{"site", "stage", "status"},
		)

		harvesterBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		harvesterDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_documents_total",
				Help: "Total number of documents or texts stored, labeled by phase.",
			},
			[]string{"phase"},
		)

		harvesterPhaseRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_phase_runs_total",
				Help: "Total number of phase runs, labeled by phase and outcome.",
			},
			[]string{"phase", "outcome"},
		)

		harvesterCapReachedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_request_cap_reached_total",
				Help: "Total number of crawls that stopped at the request cap.",
			},
		)

		harvesterOCRChargesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_ocr_charges_total",
				Help: "Total number of charged OCR events, labeled by event.",
			},
			[]string{"event"},
		)

		harvesterOCRDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_ocr_duration_seconds",
				Help:    "Histogram of OCR conversion latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
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

		harvesterJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of harvest jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		harvesterRateLimitDelaysSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveFetch records one registry fetch.
func ObserveFetch(site, stage, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	harvesterFetchesTotal.WithLabelValues(sanitizedSite, stage, status).Inc()
	if bytesFetched > 0 {
		harvesterBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveDocument counts one stored document or text.
func ObserveDocument(phase string) {
	Init()
	harvesterDocumentsTotal.WithLabelValues(phase).Inc()
}

// ObservePhaseRun counts one phase run by outcome (cached, completed, failed).
func ObservePhaseRun(phase, outcome string) {
	Init()
	harvesterPhaseRunsTotal.WithLabelValues(phase, outcome).Inc()
}

// ObserveCapReached counts a crawl that hit the request cap.
func ObserveCapReached() {
	Init()
	harvesterCapReachedTotal.Inc()
}

// ObserveOCRCharge counts one charged OCR event.
func ObserveOCRCharge(event string) {
	Init()
	harvesterOCRChargesTotal.WithLabelValues(event).Inc()
}

// ObserveOCRDuration records the latency of one OCR conversion.
func ObserveOCRDuration(duration time.Duration) {
	Init()
	harvesterOCRDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	harvesterJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvesterActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaysSecs.WithLabelValues(domain).Observe(duration.Seconds())
}
