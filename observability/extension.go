package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/docbatch/ext"
	"github.com/xraph/docbatch/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.BatchCreated   = (*MetricsExtension)(nil)
	_ ext.BatchQueued    = (*MetricsExtension)(nil)
	_ ext.BatchStarted   = (*MetricsExtension)(nil)
	_ ext.BatchPaused    = (*MetricsExtension)(nil)
	_ ext.BatchResumed   = (*MetricsExtension)(nil)
	_ ext.BatchFinished  = (*MetricsExtension)(nil)
	_ ext.BatchCancelled = (*MetricsExtension)(nil)
	_ ext.FileSucceeded  = (*MetricsExtension)(nil)
	_ ext.FileFailed     = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/docbatch/observability"

// MetricsExtension records system-wide lifecycle metrics through an OTel
// meter. Register it as an engine extension to track creation and queue
// rates, terminal outcomes, pauses and per-file results.
type MetricsExtension struct {
	BatchCreated   metric.Int64Counter
	BatchQueued    metric.Int64Counter
	BatchStarted   metric.Int64Counter
	BatchPaused    metric.Int64Counter
	BatchResumed   metric.Int64Counter
	BatchFinished  metric.Int64Counter
	BatchCancelled metric.Int64Counter
	FileProcessed  metric.Int64Counter
	BatchDuration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the OTel API returns noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return c
	}
	duration, _ := meter.Float64Histogram("docbatch.batch.duration", //nolint:errcheck // noop fallback
		metric.WithDescription("Time from first start to terminal status"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		BatchCreated:   counter("docbatch.batch.created", "Batch jobs created"),
		BatchQueued:    counter("docbatch.batch.queued", "Batch jobs queued from created"),
		BatchStarted:   counter("docbatch.batch.started", "Batch job runs started"),
		BatchPaused:    counter("docbatch.batch.paused", "Batch jobs paused"),
		BatchResumed:   counter("docbatch.batch.resumed", "Batch jobs resumed"),
		BatchFinished:  counter("docbatch.batch.finished", "Batch jobs reaching a terminal outcome"),
		BatchCancelled: counter("docbatch.batch.cancelled", "Batch jobs cancelled"),
		FileProcessed:  counter("docbatch.file.processed", "File outcomes recorded"),
		BatchDuration:  duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Batch lifecycle hooks ───────────────────────────

// OnBatchCreated implements ext.BatchCreated.
func (m *MetricsExtension) OnBatchCreated(ctx context.Context, j *job.Job) error {
	m.BatchCreated.Add(ctx, 1, batchAttrs(j))
	return nil
}

// OnBatchQueued implements ext.BatchQueued.
func (m *MetricsExtension) OnBatchQueued(ctx context.Context, j *job.Job) error {
	m.BatchQueued.Add(ctx, 1, batchAttrs(j))
	return nil
}

// OnBatchStarted implements ext.BatchStarted.
func (m *MetricsExtension) OnBatchStarted(ctx context.Context, j *job.Job) error {
	m.BatchStarted.Add(ctx, 1, batchAttrs(j))
	return nil
}

// OnBatchPaused implements ext.BatchPaused.
func (m *MetricsExtension) OnBatchPaused(ctx context.Context, j *job.Job) error {
	m.BatchPaused.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", j.TenantID),
		attribute.String("reason", j.PauseReason),
	))
	return nil
}

// OnBatchResumed implements ext.BatchResumed.
func (m *MetricsExtension) OnBatchResumed(ctx context.Context, j *job.Job) error {
	m.BatchResumed.Add(ctx, 1, batchAttrs(j))
	return nil
}

// OnBatchFinished implements ext.BatchFinished.
func (m *MetricsExtension) OnBatchFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("tenant_id", j.TenantID),
		attribute.String("status", string(j.Status)),
	)
	m.BatchFinished.Add(ctx, 1, attrs)
	m.BatchDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnBatchCancelled implements ext.BatchCancelled.
func (m *MetricsExtension) OnBatchCancelled(ctx context.Context, j *job.Job, from job.Status) error {
	m.BatchCancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", j.TenantID),
		attribute.String("from", string(from)),
	))
	return nil
}

// ── File lifecycle hooks ────────────────────────────

// OnFileSucceeded implements ext.FileSucceeded.
func (m *MetricsExtension) OnFileSucceeded(ctx context.Context, j *job.Job, _ *job.File, _ time.Duration) error {
	m.FileProcessed.Add(ctx, 1, fileAttrs(j, "succeeded"))
	return nil
}

// OnFileFailed implements ext.FileFailed.
func (m *MetricsExtension) OnFileFailed(ctx context.Context, j *job.Job, _ *job.File, _ error) error {
	m.FileProcessed.Add(ctx, 1, fileAttrs(j, "failed"))
	return nil
}

func batchAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tenant_id", j.TenantID),
		attribute.String("priority", string(j.Priority)),
	)
}

func fileAttrs(j *job.Job, outcome string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("document_type", j.DocumentType),
		attribute.String("outcome", outcome),
	)
}
