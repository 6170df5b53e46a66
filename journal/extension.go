package journal

import (
	"context"
	"time"

	"github.com/xraph/docbatch/ext"
	"github.com/xraph/docbatch/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.BatchCreated   = (*Extension)(nil)
	_ ext.BatchQueued    = (*Extension)(nil)
	_ ext.BatchStarted   = (*Extension)(nil)
	_ ext.BatchPaused    = (*Extension)(nil)
	_ ext.BatchResumed   = (*Extension)(nil)
	_ ext.BatchFinished  = (*Extension)(nil)
	_ ext.BatchCancelled = (*Extension)(nil)
	_ ext.BatchDeleted   = (*Extension)(nil)
	_ ext.FileSucceeded  = (*Extension)(nil)
	_ ext.FileFailed     = (*Extension)(nil)
)

// Extension writes a journal record for every lifecycle hook. Append
// errors are returned to the registry, which logs them.
type Extension struct {
	w Writer
}

// NewExtension returns an extension appending to w.
func NewExtension(w Writer) *Extension { return &Extension{w: w} }

// Name implements ext.Extension.
func (e *Extension) Name() string { return "journal" }

func (e *Extension) transition(ctx context.Context, j *job.Job, from job.Status) error {
	r := NewRecord(KindTransition, j)
	r.From, r.To = from, j.Status
	return e.w.Append(ctx, r)
}

// OnBatchCreated implements ext.BatchCreated.
func (e *Extension) OnBatchCreated(ctx context.Context, j *job.Job) error {
	r := NewRecord(KindCreated, j)
	r.To = j.Status
	return e.w.Append(ctx, r)
}

// OnBatchQueued implements ext.BatchQueued.
func (e *Extension) OnBatchQueued(ctx context.Context, j *job.Job) error {
	return e.transition(ctx, j, job.StatusCreated)
}

// OnBatchStarted implements ext.BatchStarted.
func (e *Extension) OnBatchStarted(ctx context.Context, j *job.Job) error {
	return e.transition(ctx, j, job.StatusQueued)
}

// OnBatchPaused implements ext.BatchPaused.
func (e *Extension) OnBatchPaused(ctx context.Context, j *job.Job) error {
	r := NewRecord(KindTransition, j)
	r.From, r.To = job.StatusProcessing, j.Status
	r.Error = j.PauseReason
	return e.w.Append(ctx, r)
}

// OnBatchResumed implements ext.BatchResumed.
func (e *Extension) OnBatchResumed(ctx context.Context, j *job.Job) error {
	return e.transition(ctx, j, job.StatusPaused)
}

// OnBatchFinished implements ext.BatchFinished.
func (e *Extension) OnBatchFinished(ctx context.Context, j *job.Job, _ time.Duration) error {
	return e.transition(ctx, j, job.StatusProcessing)
}

// OnBatchCancelled implements ext.BatchCancelled.
func (e *Extension) OnBatchCancelled(ctx context.Context, j *job.Job, from job.Status) error {
	return e.transition(ctx, j, from)
}

// OnBatchDeleted implements ext.BatchDeleted.
func (e *Extension) OnBatchDeleted(ctx context.Context, j *job.Job) error {
	r := NewRecord(KindDeleted, j)
	r.From = j.Status
	return e.w.Append(ctx, r)
}

// OnFileSucceeded implements ext.FileSucceeded.
func (e *Extension) OnFileSucceeded(ctx context.Context, j *job.Job, f *job.File, _ time.Duration) error {
	return e.file(ctx, j, f)
}

// OnFileFailed implements ext.FileFailed.
func (e *Extension) OnFileFailed(ctx context.Context, j *job.Job, f *job.File, _ error) error {
	return e.file(ctx, j, f)
}

func (e *Extension) file(ctx context.Context, j *job.Job, f *job.File) error {
	r := NewRecord(KindFile, j)
	r.FileID = f.ID
	r.FileStatus = f.Status
	r.Error = f.Error
	return e.w.Append(ctx, r)
}
