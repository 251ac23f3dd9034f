// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for tool calls, health probes and connection state.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Namespace is the Prometheus namespace (default: toolmesh)
	Namespace string
	Subsystem string

	// HistogramBuckets are latency buckets in milliseconds
	HistogramBuckets []float64

	// ConstLabels are added to all metrics
	ConstLabels prometheus.Labels

	// Registerer receives the collectors (default: a fresh registry).
	// Tests pass prometheus.NewRegistry() to stay isolated.
	Registerer prometheus.Registerer
	// Gatherer serves /metrics; defaults to Registerer when it is a registry.
	Gatherer prometheus.Gatherer
}

// connectionStates are the one-hot values of the connection_state gauge
var connectionStates = []string{"disconnected", "connecting", "connected", "error"}

// Metrics records toolmesh metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer
	server   *http.Server

	toolCallDuration *prometheus.HistogramVec
	toolCallTotal    *prometheus.CounterVec
	toolRetryTotal   *prometheus.CounterVec
	errorTotal       *prometheus.CounterVec
	probeDuration    *prometheus.HistogramVec
	probeTotal       *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
	activeServers    prometheus.Gauge
	monitorRunning   prometheus.Gauge
}

// NewMetrics creates and registers the collectors
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "toolmesh"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.NewRegistry()
	}
	if config.Gatherer == nil {
		if g, ok := config.Registerer.(prometheus.Gatherer); ok {
			config.Gatherer = g
		} else {
			config.Gatherer = prometheus.DefaultGatherer
		}
	}

	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			Buckets:     config.HistogramBuckets,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	m := &Metrics{
		gatherer:         config.Gatherer,
		toolCallDuration: histogram("tool_call_duration_milliseconds", "Duration of tool calls in milliseconds", "server", "tool", "status"),
		toolCallTotal:    counter("tool_call_total", "Total number of tool calls", "server", "tool", "status"),
		toolRetryTotal:   counter("tool_retry_total", "Total number of tool call retries", "server", "tool"),
		errorTotal:       counter("error_total", "Total number of errors by kind", "server", "kind"),
		probeDuration:    histogram("health_probe_duration_milliseconds", "Duration of health probes in milliseconds", "server", "status"),
		probeTotal:       counter("health_probe_total", "Total number of health probes", "server", "status"),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_state",
			Help:        "Current connection state per server (1 for the active state)",
			ConstLabels: config.ConstLabels,
		}, []string{"server", "state"}),
		activeServers:  gauge("active_servers", "Number of successfully started servers"),
		monitorRunning: gauge("health_monitor_running", "1 while periodic health checks are scheduled"),
	}

	collectors := []prometheus.Collector{
		m.toolCallDuration,
		m.toolCallTotal,
		m.toolRetryTotal,
		m.errorTotal,
		m.probeDuration,
		m.probeTotal,
		m.connectionState,
		m.activeServers,
		m.monitorRunning,
	}
	for _, c := range collectors {
		if err := config.Registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("failed to register metrics: %w", err)
			}
		}
	}

	return m, nil
}

// RecordToolCall records one finished tool call. kind is the error kind of
// a failed call and empty on success.
func (m *Metrics) RecordToolCall(server, tool string, success bool, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
		m.errorTotal.WithLabelValues(server, kind).Inc()
	}
	m.toolCallDuration.WithLabelValues(server, tool, status).Observe(float64(duration.Milliseconds()))
	m.toolCallTotal.WithLabelValues(server, tool, status).Inc()
}

// RecordRetry records a retried tool call attempt
func (m *Metrics) RecordRetry(server, tool string) {
	if m == nil {
		return
	}
	m.toolRetryTotal.WithLabelValues(server, tool).Inc()
}

// RecordProbe records a health probe outcome
func (m *Metrics) RecordProbe(server, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.WithLabelValues(server, status).Observe(float64(duration.Milliseconds()))
	m.probeTotal.WithLabelValues(server, status).Inc()
}

// RecordConnectionState sets the server's state gauge one-hot
func (m *Metrics) RecordConnectionState(server, state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(server, s).Set(v)
	}
}

// SetActiveServers records the size of the active set
func (m *Metrics) SetActiveServers(n int) {
	if m == nil {
		return
	}
	m.activeServers.Set(float64(n))
}

// SetMonitorRunning records whether periodic checks are scheduled
func (m *Metrics) SetMonitorRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.monitorRunning.Set(1)
	} else {
		m.monitorRunning.Set(0)
	}
}

// Handler returns the /metrics handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server on addr and returns once it is
// listening.
func (m *Metrics) Serve(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = m.server.Serve(ln)
	}()

	return ln.Addr(), nil
}

// Shutdown gracefully stops the metrics server
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
