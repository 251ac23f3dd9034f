package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/toolmesh/pkg/config"
	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(MetricsConfig{Namespace: "test", Registerer: reg})
	require.NoError(t, err)
	return m, reg
}

func TestMetricsToolCalls(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordToolCall("s1", "echo", true, "", 12*time.Millisecond)
	m.RecordToolCall("s1", "echo", false, "network", 3*time.Millisecond)
	m.RecordToolCall("s1", "echo", false, "network", 3*time.Millisecond)
	m.RecordRetry("s1", "echo")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCallTotal.WithLabelValues("s1", "echo", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolCallTotal.WithLabelValues("s1", "echo", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errorTotal.WithLabelValues("s1", "network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolRetryTotal.WithLabelValues("s1", "echo")))
}

func TestMetricsConnectionStateOneHot(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordConnectionState("s1", "connecting")
	m.RecordConnectionState("s1", "connected")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("s1", "connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("s1", "connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("s1", "disconnected")))
}

func TestMetricsGauges(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetActiveServers(3)
	m.SetMonitorRunning(true)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeServers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.monitorRunning))

	m.SetMonitorRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.monitorRunning))

	m.RecordProbe("s1", "healthy", 4*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probeTotal.WithLabelValues("s1", "healthy")))
}

func TestMetricsReregisterIsTolerated(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)
	_, err = NewMetrics(MetricsConfig{Registerer: reg})
	assert.NoError(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordToolCall("s1", "echo", true, "", time.Millisecond)
	m.RecordRetry("s1", "echo")
	m.RecordProbe("s1", "unknown", time.Millisecond)
	m.RecordConnectionState("s1", "error")
	m.SetActiveServers(1)
	m.SetMonitorRunning(true)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMetricsServe(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordToolCall("s1", "echo", true, "", time.Millisecond)

	addr, err := m.Serve("127.0.0.1:0")
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `test_tool_call_total{server="s1",status="success",tool="echo"} 1`)
}

func newTestTracing(t *testing.T) (*TracingProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracingProvider(TracingConfig{Exporter: exporter})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exporter
}

func TestToolSpanRecordsError(t *testing.T) {
	tp, exporter := newTestTracing(t)

	ctx, span := tp.StartToolSpan(context.Background(), "s1", "echo", "exec-1")
	tp.RecordError(ctx, mcperrors.ToolFailed("echo", "boom"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "toolmesh.execute echo", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "s1", attrs["toolmesh.server_id"])
	assert.Equal(t, "exec-1", attrs["toolmesh.execution_id"])
	assert.Equal(t, "tool_execution", attrs["toolmesh.error.kind"])
}

func TestNilTracingProvider(t *testing.T) {
	var tp *TracingProvider
	ctx, span := tp.StartProbeSpan(context.Background(), "s1")
	tp.RecordError(ctx, mcperrors.NotConnected("s1"))
	span.End()
	h := http.Header{}
	tp.Inject(ctx, nil)
	assert.Empty(t, h)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracingConfigFrom(t *testing.T) {
	tc := TracingConfigFrom(config.TracingConfig{Exporter: "OTLP-HTTP", Endpoint: "collector:4318", SampleRate: 0.5}, "1.0.0")
	assert.Equal(t, ExporterTypeOTLPHTTP, tc.ExporterType)
	assert.Equal(t, "collector:4318", tc.Endpoint)
	assert.Equal(t, "1.0.0", tc.ServiceVersion)

	assert.Equal(t, ExporterTypeNoop, TracingConfigFrom(config.TracingConfig{}, "").ExporterType)

	_, err := NewTracingProvider(TracingConfig{ExporterType: "zipkin"})
	assert.Error(t, err)
}

func TestTransportInjectsTraceparent(t *testing.T) {
	tp, exporter := newTestTracing(t)

	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("traceparent")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(nil, tp)}
	resp, err := client.Post(srv.URL+"/execute", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.True(t, strings.HasPrefix(<-seen, "00-"))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}
