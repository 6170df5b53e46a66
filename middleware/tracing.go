package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/docbatch/job"
)

// tracerName is the instrumentation scope name for docbatch tracing.
const tracerName = "github.com/xraph/docbatch"

// Tracing returns middleware that wraps each processing attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: docbatch.batch.id, docbatch.file.id,
// docbatch.file.source, docbatch.file.attempt, docbatch.priority,
// docbatch.tenant_id and docbatch.document_type.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, f *job.File, next Handler) error {
		ctx, span := tracer.Start(ctx, "docbatch.file.process",
			trace.WithAttributes(
				attribute.String("docbatch.batch.id", j.ID.String()),
				attribute.String("docbatch.file.id", f.ID.String()),
				attribute.String("docbatch.file.source", f.Ref()),
				attribute.Int("docbatch.file.attempt", f.Attempts),
				attribute.String("docbatch.priority", string(j.Priority)),
				attribute.String("docbatch.tenant_id", j.TenantID),
				attribute.String("docbatch.document_type", j.DocumentType),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
