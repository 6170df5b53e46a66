// Package ext defines the extension system for docbatch.
// Extensions are notified of lifecycle events (batch queued, file failed,
// batch finished, etc.) and can react to them with metrics, journaling or
// event streaming.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/docbatch/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Batch lifecycle hooks
// ──────────────────────────────────────────────────

// BatchCreated is called after a batch job is stored.
type BatchCreated interface {
	OnBatchCreated(ctx context.Context, j *job.Job) error
}

// BatchQueued is called when a job enters the priority queue from created.
type BatchQueued interface {
	OnBatchQueued(ctx context.Context, j *job.Job) error
}

// BatchStarted is called when a worker moves a job to processing.
type BatchStarted interface {
	OnBatchStarted(ctx context.Context, j *job.Job) error
}

// BatchPaused is called when a processing job is paused. The reason is
// j.PauseReason.
type BatchPaused interface {
	OnBatchPaused(ctx context.Context, j *job.Job) error
}

// BatchResumed is called when a paused job is queued again.
type BatchResumed interface {
	OnBatchResumed(ctx context.Context, j *job.Job) error
}

// BatchFinished is called when a job reaches completed, failed or
// partially_failed. j.Summary is set.
type BatchFinished interface {
	OnBatchFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// BatchCancelled is called when a job is cancelled from status from.
type BatchCancelled interface {
	OnBatchCancelled(ctx context.Context, j *job.Job, from job.Status) error
}

// BatchDeleted is called after a job is removed. j is the last snapshot.
type BatchDeleted interface {
	OnBatchDeleted(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// File lifecycle hooks
// ──────────────────────────────────────────────────

// FileSucceeded is called after a file outcome is recorded as succeeded.
type FileSucceeded interface {
	OnFileSucceeded(ctx context.Context, j *job.Job, f *job.File, elapsed time.Duration) error
}

// FileFailed is called after a file outcome is recorded as failed.
type FileFailed interface {
	OnFileFailed(ctx context.Context, j *job.Job, f *job.File, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
