// Package telemetry adapts the OpenTelemetry SDK to the core.Telemetry
// facade so call sites (the Gemini client, the graph executor, bridge
// sessions) depend on a two-method interface instead of the otel API
// surface directly — the same shape the teacher's ai/providers/base.go
// uses around its own span helpers.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/driftkit/taskgraph/core"
)

// Tracer wraps an otel trace.Tracer behind core.Telemetry.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer that starts real spans under the given
// instrumentation name (typically the component: "gemini", "executor",
// "bridge").
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	spanCtx, span := t.tracer.Start(ctx, name)
	return spanCtx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, stringify(v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if str, ok := v.(interface{ String() string }); ok {
		return str.String()
	}
	return ""
}

// InitStdoutProvider installs a stdout span exporter as the global trace
// provider — the default for a local run with no collector configured.
func InitStdoutProvider(serviceName string) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return installProvider(exporter, serviceName)
}

// InitOTLPProvider points every span this service creates — the Gemini
// client, graph execution, bridge sends, and inbound HTTP requests via
// otelhttp — at a real collector over gRPC, selected by setting
// Config.Tracing.OTLPEndpoint. Callers never see the difference: every
// caller only ever depends on core.Telemetry.
func InitOTLPProvider(ctx context.Context, endpoint, serviceName string) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	return installProvider(exporter, serviceName)
}

func installProvider(exporter sdktrace.SpanExporter, serviceName string) (func(context.Context) error, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String("1.0.0"),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
