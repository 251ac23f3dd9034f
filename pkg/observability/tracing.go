package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/toolmesh/pkg/config"
	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
)

// Span attribute keys
const (
	AttrServerID    = attribute.Key("toolmesh.server_id")
	AttrTool        = attribute.Key("toolmesh.tool")
	AttrExecutionID = attribute.Key("toolmesh.execution_id")
	AttrAttempt     = attribute.Key("toolmesh.attempt")
	AttrHealth      = attribute.Key("toolmesh.health")
	AttrErrorKind   = attribute.Key("toolmesh.error.kind")
	AttrErrorCode   = attribute.Key("toolmesh.error.code")
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Exporter configuration
	ExporterType ExporterType
	Endpoint     string // OTLP endpoint
	Headers      map[string]string
	Insecure     bool // Use insecure connection (for development)

	// SampleRate is 0.0 to 1.0
	SampleRate float64

	// Exporter overrides ExporterType; tests pass an in-memory exporter
	Exporter sdktrace.SpanExporter

	// Additional attributes
	ResourceAttributes map[string]string
}

// ExporterType defines the type of trace exporter
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"

	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"

	// ExporterTypeNoop disables trace export
	ExporterTypeNoop ExporterType = "none"
)

// TracingConfigFrom maps the tracing section of the configuration file
func TracingConfigFrom(c config.TracingConfig, version string) TracingConfig {
	exporter := ExporterType(strings.ToLower(c.Exporter))
	if exporter == "" {
		exporter = ExporterTypeNoop
	}
	return TracingConfig{
		ServiceName:    "toolmesh",
		ServiceVersion: version,
		ExporterType:   exporter,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// TracingProvider manages OpenTelemetry tracing. A nil *TracingProvider is
// valid: spans are no-ops and nothing is exported.
type TracingProvider struct {
	config         TracingConfig
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator
	mu             sync.Mutex
	shutdown       func(context.Context) error
}

// NewTracingProvider creates a new tracing provider
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "toolmesh"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}

	res := createResource(config)

	exporter := config.Exporter
	if exporter == nil {
		var err error
		exporter, err = createExporter(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(config.SampleRate)),
	}
	if config.Exporter != nil {
		// Synchronous export keeps injected exporters deterministic
		opts = append(opts, sdktrace.WithSyncer(exporter))
	} else {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	return &TracingProvider{
		config:         config,
		tracerProvider: tp,
		tracer:         tp.Tracer("github.com/ajitpratap0/toolmesh"),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		shutdown: tp.Shutdown,
	}, nil
}

// createResource creates the OpenTelemetry resource
func createResource(config TracingConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	for k, v := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// createExporter creates the configured trace exporter
func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithHeaders(config.Headers)}
		if config.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(config.Endpoint))
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithHeaders(config.Headers)}
		if config.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(config.Endpoint))
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop, "noop":
		return &noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// StartSpan starts a new span with the given name and options
func (tp *TracingProvider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tp == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tp.tracer.Start(ctx, name, opts...)
}

// StartToolSpan starts the span covering one tool execution
func (tp *TracingProvider) StartToolSpan(ctx context.Context, serverID, tool, executionID string) (context.Context, trace.Span) {
	return tp.StartSpan(ctx, "toolmesh.execute "+tool,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrServerID.String(serverID),
			AttrTool.String(tool),
			AttrExecutionID.String(executionID),
		),
	)
}

// StartProbeSpan starts the span covering one health probe
func (tp *TracingProvider) StartProbeSpan(ctx context.Context, serverID string) (context.Context, trace.Span) {
	return tp.StartSpan(ctx, "toolmesh.probe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrServerID.String(serverID)),
	)
}

// StartServerSpan starts the span covering a server start or stop
func (tp *TracingProvider) StartServerSpan(ctx context.Context, op, serverID string) (context.Context, trace.Span) {
	return tp.StartSpan(ctx, "toolmesh.server."+op,
		trace.WithAttributes(AttrServerID.String(serverID)),
	)
}

// RecordError records an error on the current span. Tool errors contribute
// their kind and code as attributes.
func (tp *TracingProvider) RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if te, ok := mcperrors.As(err); ok {
		span.SetAttributes(
			AttrErrorKind.String(string(te.Kind())),
			AttrErrorCode.Int(te.Code()),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to the current span
func (tp *TracingProvider) AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// Inject injects trace context into a carrier
func (tp *TracingProvider) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if tp == nil {
		return
	}
	tp.propagator.Inject(ctx, carrier)
}

// Extract extracts trace context from a carrier
func (tp *TracingProvider) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if tp == nil {
		return ctx
	}
	return tp.propagator.Extract(ctx, carrier)
}

// Shutdown flushes pending spans and stops the provider
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if tp == nil {
		return nil
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.shutdown != nil {
		err := tp.shutdown(ctx)
		tp.shutdown = nil
		return err
	}
	return nil
}

// noopExporter is a no-op span exporter
type noopExporter struct{}

func (n *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (n *noopExporter) Shutdown(ctx context.Context) error {
	return nil
}
