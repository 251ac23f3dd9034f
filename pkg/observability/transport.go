package observability

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Transport is an http.RoundTripper that opens a client span per outbound
// request and injects the trace context into its headers.
type Transport struct {
	Base    http.RoundTripper
	Tracing *TracingProvider
}

// NewTransport wraps base (http.DefaultTransport if nil)
func NewTransport(base http.RoundTripper, tracing *TracingProvider) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Tracing: tracing}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Tracing == nil {
		return t.Base.RoundTrip(req)
	}

	ctx, span := t.Tracing.StartSpan(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(req.Method),
			attribute.String("http.url", req.URL.Redacted()),
		),
	)
	defer span.End()

	out := req.Clone(ctx)
	t.Tracing.Inject(ctx, propagation.HeaderCarrier(out.Header))

	resp, err := t.Base.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}
