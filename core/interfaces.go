package core

import "context"

// Telemetry is the thin tracing facade used by outbound-call sites (the
// Gemini client, the bridge sessions) so they can be unit tested without a
// real OpenTelemetry SDK wired up.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span mirrors the subset of trace.Span that callers in this module need.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards every span. Used as the default when no tracer
// provider has been configured.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

// NoOpSpan discards End/SetAttribute/RecordError calls.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}
