// Package tracing wires OpenTelemetry spans around the gateway's routing
// decision points. The tracer provider is process-global; Setup installs it
// with W3C propagation and returns a shutdown hook.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span names recorded at decision points.
const (
	SpanAPIInvoke      = "api_invoke"
	SpanRequestRouting = "request_routing"
)

// Attribute keys recorded on routing spans.
const (
	AttrRouterName       = "router_name"
	AttrBefore           = "before"
	AttrAfter            = "after"
	AttrRouterResolution = "router_resolution"
	AttrRequest          = "request"
	AttrResponse         = "response"
)

const tracerName = "github.com/relay-labs/llm-gateway"

// Setup installs a tracer provider with the given span processors (none is
// valid: spans are still created and their contexts propagate, they are just
// not exported). Returns a shutdown function to flush on exit.
func Setup(ctx context.Context, processors ...sdktrace.SpanProcessor) func(context.Context) error {
	opts := make([]sdktrace.TracerProviderOption, 0, len(processors))
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown
}

// Start opens a span under the gateway tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// TraceIDUUID materialises the current span's trace id as a UUID string for
// the X-Trace-Id response header. A fresh UUID is generated when the context
// carries no trace id so the header is always present.
func TraceIDUUID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		tid := sc.TraceID()
		if u, err := uuid.FromBytes(tid[:]); err == nil {
			return u.String()
		}
	}
	return uuid.NewString()
}

// String is shorthand for a string attribute.
func String(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
