// Package metrics exposes Prometheus instrumentation for the server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderelay_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently live sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderelay_active_sessions",
			Help: "Number of live agent sessions",
		},
	)

	// SessionsClosedTotal counts sessions by how they ended
	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_sessions_closed_total",
			Help: "Total number of sessions closed, by reason",
		},
		[]string{"reason"},
	)

	// SessionsCreatedTotal counts session creations
	SessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderelay_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	// TasksActive tracks currently running tasks
	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderelay_active_tasks",
			Help: "Number of running tasks",
		},
	)

	// TasksTotal counts finished tasks by terminal status
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_tasks_total",
			Help: "Total number of finished tasks, by terminal status",
		},
		[]string{"status"},
	)

	// TaskDuration tracks task wall-clock time
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderelay_task_duration_seconds",
			Help:    "Task duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	// EventsPublished counts events published onto task queues
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_events_published_total",
			Help: "Total number of events published, by event type",
		},
		[]string{"type"},
	)

	// StreamClients tracks connected stream subscribers
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderelay_stream_clients",
			Help: "Number of connected stream subscribers",
		},
	)

	// ToolCalls tracks MCP tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	// ScheduledRunsTotal counts scheduled task submissions
	ScheduledRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderelay_scheduled_runs_total",
			Help: "Total number of scheduled task runs, by outcome",
		},
		[]string{"outcome"},
	)
)

// Middleware records request count and latency for gin handlers.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := normalizePath(c.FullPath())
		status := strconv.Itoa(c.Writer.Status())
		RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath keeps label cardinality bounded. gin's FullPath already
// collapses path parameters; unknown routes collapse to "other".
func normalizePath(path string) string {
	if path == "" {
		return "other"
	}
	if strings.HasPrefix(path, "/mcp") {
		return "/mcp"
	}
	return path
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionCreated increments the session creation counter.
func RecordSessionCreated() {
	SessionsCreatedTotal.Inc()
}

// RecordSessionClosed records a session teardown with its reason.
func RecordSessionClosed(reason string) {
	SessionsClosedTotal.WithLabelValues(reason).Inc()
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordTaskStarted increments the running task gauge.
func RecordTaskStarted() {
	TasksActive.Inc()
}

// RecordTaskFinished records a terminal task status and its duration.
func RecordTaskFinished(status string, durationSeconds float64) {
	TasksActive.Dec()
	TasksTotal.WithLabelValues(status).Inc()
	TaskDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordEventPublished counts one published event.
func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordToolCall records an MCP tool invocation.
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// RecordScheduledRun records a scheduled submission outcome.
func RecordScheduledRun(outcome string) {
	ScheduledRunsTotal.WithLabelValues(outcome).Inc()
}
