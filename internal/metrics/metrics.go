// Package metrics exposes Prometheus collectors for the crawl service.
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
	tasksTotal                 *prometheus.CounterVec
	linksTotal                 *prometheus.CounterVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	rateLimitRejectionsTotal   prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	taskDurationSeconds        prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kb_crawler_tasks_total",
				Help: "Total number of crawl tasks that reached a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		linksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kb_crawler_links_total",
				Help: "Total number of extracted links, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kb_crawler_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "kb_crawler_rate_limit_rejections_total",
				Help: "Total number of crawl submissions rejected by the rate limiter.",
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kb_crawler_active_workers",
				Help: "Number of workers currently running a crawl task.",
			},
		)

		taskDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kb_crawler_task_duration_seconds",
				Help:    "Histogram of crawl task durations from start of execution to terminal status.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL for use as a label.
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

// ObserveTask records a task reaching a terminal status.
func ObserveTask(status string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(status).Inc()
	taskDurationSeconds.Observe(duration.Seconds())
}

// ObserveLink records the extraction outcome for a single link.
func ObserveLink(link string, outcome string) {
	Init()
	linksTotal.WithLabelValues(SanitizeSite(link), outcome).Inc()
}

// ObserveWebhook records a webhook delivery attempt.
func ObserveWebhook(outcome string) {
	Init()
	webhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitRejection counts a submission rejected by the rate limiter.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
