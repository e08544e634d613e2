// Package metrics defines the watcher's Prometheus instrumentation. All
// collectors hang off a caller-supplied registry so tests can use a private
// one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the pipeline reports to.
type Metrics struct {
	registry *prometheus.Registry

	SubmissionsFound   prometheus.Counter
	SubmissionsMatched prometheus.Counter
	SubmissionsDropped prometheus.Counter
	SubmissionsSent    prometheus.Counter
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	SendFailures       prometheus.Counter
	FloodWaits         prometheus.Counter
	DestinationsGone   prometheus.Counter

	StageErrors  *prometheus.CounterVec
	StageLatency *prometheus.HistogramVec
	CommandUsage *prometheus.CounterVec

	PoolSize      prometheus.Gauge
	PoolActive    prometheus.Gauge
	QueueFetchNew prometheus.Gauge
	QueueRefresh  prometheus.Gauge
	QueueDownload prometheus.Gauge
	QueueUpload   prometheus.Gauge
	QueueSend     prometheus.Gauge
	LatestID      prometheus.Gauge
}

// New registers all collectors on reg and returns the bundle.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SubmissionsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_submissions_found_total",
			Help: "Submissions discovered on the browse page.",
		}),
		SubmissionsMatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_submissions_matched_total",
			Help: "Submissions matching at least one subscription.",
		}),
		SubmissionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_submissions_dropped_total",
			Help: "Submissions dropped with no matching subscription.",
		}),
		SubmissionsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_submissions_sent_total",
			Help: "Submissions delivered to at least one destination.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_cache_hits_total",
			Help: "Submission cache hits that skipped media stages.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_cache_misses_total",
			Help: "Submission cache misses.",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_send_failures_total",
			Help: "Delivery attempts that failed after all retries.",
		}),
		FloodWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_flood_waits_total",
			Help: "Rate-limit pauses imposed by the chat platform.",
		}),
		DestinationsGone: factory.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_destinations_gone_total",
			Help: "Destinations found unreachable and paused.",
		}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_stage_errors_total",
			Help: "Errors per pipeline stage.",
		}, []string{"stage"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subwatch_stage_duration_seconds",
			Help:    "Time spent processing one item per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		CommandUsage: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_command_usage_total",
			Help: "Management command invocations by use case.",
		}, []string{"function"}),
		PoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_pool_size",
			Help: "Submissions tracked by the wait pool.",
		}),
		PoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_pool_active",
			Help: "Wait pool submissions with fetched metadata.",
		}),
		QueueFetchNew: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_queue_fetch_new",
			Help: "Ids waiting in the new fetch tier.",
		}),
		QueueRefresh: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_queue_fetch_refresh",
			Help: "Ids waiting in the refresh fetch tier.",
		}),
		QueueDownload: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_queue_download",
			Help: "States ready for media download.",
		}),
		QueueUpload: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_queue_upload",
			Help: "States ready for media upload.",
		}),
		QueueSend: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_queue_send",
			Help: "States ready to send.",
		}),
		LatestID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subwatch_latest_submission_id",
			Help: "Highest submission id delivered to every destination.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage iteration's duration.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// CountUsage is the Commands.Usage hook.
func (m *Metrics) CountUsage(label string) {
	m.CommandUsage.WithLabelValues(label).Inc()
}
