package graph

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of graph engine spans.
const TracerName = "github.com/hyperjump/memograph/internal/graph"

func defaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func (e *Engine) startSpan(ctx context.Context, op string, noteID int64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("memograph.operation", op)}
	if noteID > 0 {
		attrs = append(attrs, attribute.Int64("memograph.note_id", noteID))
	}
	return e.tracer.Start(ctx, "graph."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
