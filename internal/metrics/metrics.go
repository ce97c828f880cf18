// Package metrics provides Prometheus instrumentation for the ticket monitor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsEnqueued counts enqueue requests, partitioned by whether they coalesced into an active job.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_jobs_enqueued_total",
		Help: "Scraping job enqueue requests",
	}, []string{"platform", "coalesced"})

	// JobsFinished counts jobs reaching completed or failed.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_jobs_finished_total",
		Help: "Scraping jobs that reached a terminal status",
	}, []string{"platform", "status", "failure_kind"})

	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_jobs_retried_total",
		Help: "Failed scraping jobs rescheduled for another attempt",
	}, []string{"platform"})

	JobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_jobs_dead_lettered_total",
		Help: "Scraping jobs that exhausted their retries",
	}, []string{"platform"})

	JobsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_jobs_reaped_total",
		Help: "Processing jobs failed after their worker stopped reporting",
	}, []string{"platform"})

	// JobDuration tracks time spent processing a job.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketmon_job_duration_seconds",
		Help:    "Scraping job processing time in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"platform"})

	// RateLimitWait tracks how long dispatch waited on the platform budget.
	RateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketmon_rate_limit_wait_seconds",
		Help:    "Time dispatch waited for platform rate-limit budget",
		Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"platform"})

	ProxyQuarantines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_proxy_quarantines_total",
		Help: "Proxies quarantined after consecutive blocked responses",
	}, []string{"platform"})

	SnapshotsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_snapshots_applied_total",
		Help: "Scraped snapshots applied to monitored tickets, by outcome",
	}, []string{"platform", "outcome"})

	// DomainEvents counts events appended to the event store.
	DomainEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_domain_events_total",
		Help: "Domain events recorded",
	}, []string{"event_type"})

	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_alerts_triggered_total",
		Help: "AlertTriggered events emitted",
	}, []string{"kind"})

	// JobsByStatus is refreshed from the queue statistics.
	JobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ticketmon_jobs",
		Help: "Scraping jobs per status",
	}, []string{"status"})

	HighDemandEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticketmon_high_demand_events",
		Help: "Upcoming events currently flagged as high demand",
	})

	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_events_relayed_total",
		Help: "Domain events published to Kafka",
	}, []string{"topic"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketmon_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketmon_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics using the route pattern as the path label.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
