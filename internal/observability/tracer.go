package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan creates a span for a call arriving over a transport.
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys for bridge spans
var (
	AttrFunction   = attribute.Key("fnbridge.function")
	AttrStrategy   = attribute.Key("fnbridge.strategy")
	AttrFormat     = attribute.Key("fnbridge.code_format")
	AttrKind       = attribute.Key("fnbridge.kind")
	AttrHandle     = attribute.Key("fnbridge.handle")
	AttrRequestID  = attribute.Key("fnbridge.request_id")
	AttrPathCount  = attribute.Key("fnbridge.path_count")
	AttrRowCount   = attribute.Key("fnbridge.row_count")
	AttrInputs     = attribute.Key("fnbridge.inputs")
	AttrOutputs    = attribute.Key("fnbridge.outputs")
	AttrErrorKind  = attribute.Key("fnbridge.error_kind")
	AttrDurationMs = attribute.Key("fnbridge.duration_ms")
)
