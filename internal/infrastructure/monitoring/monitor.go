// Package monitoring exposes a Prometheus registry for the runtime's
// operational counters — HTTP traffic, goal executions, and tool calls —
// scraped at /metrics rather than pulled through the read-only JSON status
// API in internal/infrastructure/httpapi.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor owns a private Prometheus registry so its metrics never collide
// with anything else registered process-wide.
type Monitor struct {
	registry *prometheus.Registry

	goalExecutions *prometheus.CounterVec
	goalDuration   *prometheus.HistogramVec

	toolCalls *prometheus.CounterVec
	toolErrs  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	poolWarm       prometheus.Gauge
	poolCheckedOut prometheus.Gauge
}

// NewMonitor builds a Monitor with every metric registered and ready to
// record against.
func NewMonitor() *Monitor {
	m := &Monitor{registry: prometheus.NewRegistry()}

	m.goalExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ag3nt",
		Subsystem: "goal",
		Name:      "executions_total",
		Help:      "Total number of goal actions executed by the orchestrator.",
	}, []string{"goal_id", "outcome"})

	m.goalDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ag3nt",
		Subsystem: "goal",
		Name:      "execution_duration_seconds",
		Help:      "Goal action execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"goal_id"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ag3nt",
		Subsystem: "tool",
		Name:      "calls_total",
		Help:      "Total number of tool invocations routed through the orchestrator.",
	}, []string{"tool"})

	m.toolErrs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ag3nt",
		Subsystem: "tool",
		Name:      "errors_total",
		Help:      "Total number of tool invocations that failed.",
	}, []string{"tool"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ag3nt",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of status-API HTTP requests.",
	}, []string{"method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ag3nt",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Status-API HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.poolWarm = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ag3nt",
		Subsystem: "pool",
		Name:      "warm_instances",
		Help:      "Warm sandbox instances currently held by the agent pool.",
	})

	m.poolCheckedOut = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ag3nt",
		Subsystem: "pool",
		Name:      "checked_out_instances",
		Help:      "Sandbox instances currently checked out of the agent pool.",
	})

	m.registry.MustRegister(
		m.goalExecutions, m.goalDuration,
		m.toolCalls, m.toolErrs,
		m.httpRequests, m.httpDuration,
		m.poolWarm, m.poolCheckedOut,
	)
	return m
}

// RecordGoalExecution records the outcome and duration of one goal action.
func (m *Monitor) RecordGoalExecution(goalID string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.goalExecutions.WithLabelValues(goalID, outcome).Inc()
	m.goalDuration.WithLabelValues(goalID).Observe(d.Seconds())
}

// RecordToolCall records one tool invocation, successful or not.
func (m *Monitor) RecordToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
	if err != nil {
		m.toolErrs.WithLabelValues(tool).Inc()
	}
}

// RecordHTTPRequest records one request against the status API.
func (m *Monitor) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// SetPoolGauges updates the warm/checked-out pool occupancy gauges, typically
// from the same pool.Stats() snapshot the JSON status route reports.
func (m *Monitor) SetPoolGauges(warm, checkedOut int) {
	if m == nil {
		return
	}
	m.poolWarm.Set(float64(warm))
	m.poolCheckedOut.Set(float64(checkedOut))
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Monitor) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
