package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/docbatch/job"
)

// meterName is the instrumentation scope name for docbatch metrics.
const meterName = "github.com/xraph/docbatch"

// Metrics returns middleware that records per-file processing metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - docbatch.file.duration (Float64Histogram): attempt time in seconds,
//     with attributes: document_type, priority, status ("ok" or "error")
//   - docbatch.file.executions (Int64Counter): total attempts,
//     with attributes: document_type, priority, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"docbatch.file.duration",
		metric.WithDescription("Duration of a file processing attempt in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"docbatch.file.executions",
		metric.WithDescription("Total number of file processing attempts"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, f *job.File, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("document_type", j.DocumentType),
			attribute.String("priority", string(j.Priority)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
