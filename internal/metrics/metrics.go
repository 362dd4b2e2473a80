// Package metrics holds the Prometheus collectors shared by the trace writer,
// the renderer, the agent supervisor and the daemon's HTTP surface.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trajectory writer
	traceRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopanel_trace_records_total",
			Help: "Total number of trajectory records appended",
		},
		[]string{"kind"},
	)

	traceWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopanel_trace_write_failures_total",
			Help: "Total number of failed trajectory writes",
		},
		[]string{"op"},
	)

	traceImagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopanel_trace_images_total",
			Help: "Total number of step screenshots processed",
		},
		[]string{"result"},
	)

	// Renderer
	renderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopanel_render_total",
			Help: "Total number of trajectory renders",
		},
		[]string{"result"},
	)

	renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autopanel_render_duration_seconds",
			Help:    "Trajectory render duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Agent supervisor
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopanel_agent_runs_total",
			Help: "Total number of finished agent runs",
		},
		[]string{"status"},
	)

	agentRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autopanel_agent_running",
			Help: "Whether an agent task is currently running",
		},
	)

	// HTTP
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopanel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopanel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	initOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			traceRecordsTotal,
			traceWriteFailuresTotal,
			traceImagesTotal,
			renderTotal,
			renderDuration,
			agentRunsTotal,
			agentRunning,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Handler returns an HTTP handler for the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTraceRecord counts one appended record of the given kind.
func RecordTraceRecord(kind string) {
	traceRecordsTotal.WithLabelValues(kind).Inc()
}

// RecordTraceWriteFailure counts a failed append or image write.
func RecordTraceWriteFailure(op string) {
	traceWriteFailuresTotal.WithLabelValues(op).Inc()
}

// RecordTraceImage counts a screenshot by outcome ("saved", "failed").
func RecordTraceImage(result string) {
	traceImagesTotal.WithLabelValues(result).Inc()
}

// RecordRender records one render and how long it took.
func RecordRender(result string, duration time.Duration) {
	renderTotal.WithLabelValues(result).Inc()
	renderDuration.Observe(duration.Seconds())
}

// RecordAgentRun counts a finished run by final state.
func RecordAgentRun(status string) {
	agentRunsTotal.WithLabelValues(status).Inc()
}

// SetAgentRunning updates the running gauge.
func SetAgentRunning(running bool) {
	if running {
		agentRunning.Set(1)
		return
	}
	agentRunning.Set(0)
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
