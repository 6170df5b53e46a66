package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/docbatch/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type batchCreatedEntry struct {
	name string
	hook BatchCreated
}

type batchQueuedEntry struct {
	name string
	hook BatchQueued
}

type batchStartedEntry struct {
	name string
	hook BatchStarted
}

type batchPausedEntry struct {
	name string
	hook BatchPaused
}

type batchResumedEntry struct {
	name string
	hook BatchResumed
}

type batchFinishedEntry struct {
	name string
	hook BatchFinished
}

type batchCancelledEntry struct {
	name string
	hook BatchCancelled
}

type batchDeletedEntry struct {
	name string
	hook BatchDeleted
}

type fileSucceededEntry struct {
	name string
	hook FileSucceeded
}

type fileFailedEntry struct {
	name string
	hook FileFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// Register all extensions before the first emit.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	batchCreated   []batchCreatedEntry
	batchQueued    []batchQueuedEntry
	batchStarted   []batchStartedEntry
	batchPaused    []batchPausedEntry
	batchResumed   []batchResumedEntry
	batchFinished  []batchFinishedEntry
	batchCancelled []batchCancelledEntry
	batchDeleted   []batchDeletedEntry
	fileSucceeded  []fileSucceededEntry
	fileFailed     []fileFailedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(BatchCreated); ok {
		r.batchCreated = append(r.batchCreated, batchCreatedEntry{name, h})
	}
	if h, ok := e.(BatchQueued); ok {
		r.batchQueued = append(r.batchQueued, batchQueuedEntry{name, h})
	}
	if h, ok := e.(BatchStarted); ok {
		r.batchStarted = append(r.batchStarted, batchStartedEntry{name, h})
	}
	if h, ok := e.(BatchPaused); ok {
		r.batchPaused = append(r.batchPaused, batchPausedEntry{name, h})
	}
	if h, ok := e.(BatchResumed); ok {
		r.batchResumed = append(r.batchResumed, batchResumedEntry{name, h})
	}
	if h, ok := e.(BatchFinished); ok {
		r.batchFinished = append(r.batchFinished, batchFinishedEntry{name, h})
	}
	if h, ok := e.(BatchCancelled); ok {
		r.batchCancelled = append(r.batchCancelled, batchCancelledEntry{name, h})
	}
	if h, ok := e.(BatchDeleted); ok {
		r.batchDeleted = append(r.batchDeleted, batchDeletedEntry{name, h})
	}
	if h, ok := e.(FileSucceeded); ok {
		r.fileSucceeded = append(r.fileSucceeded, fileSucceededEntry{name, h})
	}
	if h, ok := e.(FileFailed); ok {
		r.fileFailed = append(r.fileFailed, fileFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Batch event emitters
// ──────────────────────────────────────────────────

// EmitBatchCreated notifies all extensions that implement BatchCreated.
func (r *Registry) EmitBatchCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.batchCreated {
		if err := e.hook.OnBatchCreated(ctx, j); err != nil {
			r.logHookError("OnBatchCreated", e.name, err)
		}
	}
}

// EmitBatchQueued notifies all extensions that implement BatchQueued.
func (r *Registry) EmitBatchQueued(ctx context.Context, j *job.Job) {
	for _, e := range r.batchQueued {
		if err := e.hook.OnBatchQueued(ctx, j); err != nil {
			r.logHookError("OnBatchQueued", e.name, err)
		}
	}
}

// EmitBatchStarted notifies all extensions that implement BatchStarted.
func (r *Registry) EmitBatchStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.batchStarted {
		if err := e.hook.OnBatchStarted(ctx, j); err != nil {
			r.logHookError("OnBatchStarted", e.name, err)
		}
	}
}

// EmitBatchPaused notifies all extensions that implement BatchPaused.
func (r *Registry) EmitBatchPaused(ctx context.Context, j *job.Job) {
	for _, e := range r.batchPaused {
		if err := e.hook.OnBatchPaused(ctx, j); err != nil {
			r.logHookError("OnBatchPaused", e.name, err)
		}
	}
}

// EmitBatchResumed notifies all extensions that implement BatchResumed.
func (r *Registry) EmitBatchResumed(ctx context.Context, j *job.Job) {
	for _, e := range r.batchResumed {
		if err := e.hook.OnBatchResumed(ctx, j); err != nil {
			r.logHookError("OnBatchResumed", e.name, err)
		}
	}
}

// EmitBatchFinished notifies all extensions that implement BatchFinished.
func (r *Registry) EmitBatchFinished(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.batchFinished {
		if err := e.hook.OnBatchFinished(ctx, j, elapsed); err != nil {
			r.logHookError("OnBatchFinished", e.name, err)
		}
	}
}

// EmitBatchCancelled notifies all extensions that implement BatchCancelled.
func (r *Registry) EmitBatchCancelled(ctx context.Context, j *job.Job, from job.Status) {
	for _, e := range r.batchCancelled {
		if err := e.hook.OnBatchCancelled(ctx, j, from); err != nil {
			r.logHookError("OnBatchCancelled", e.name, err)
		}
	}
}

// EmitBatchDeleted notifies all extensions that implement BatchDeleted.
func (r *Registry) EmitBatchDeleted(ctx context.Context, j *job.Job) {
	for _, e := range r.batchDeleted {
		if err := e.hook.OnBatchDeleted(ctx, j); err != nil {
			r.logHookError("OnBatchDeleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// File event emitters
// ──────────────────────────────────────────────────

// EmitFileSucceeded notifies all extensions that implement FileSucceeded.
func (r *Registry) EmitFileSucceeded(ctx context.Context, j *job.Job, f *job.File, elapsed time.Duration) {
	for _, e := range r.fileSucceeded {
		if err := e.hook.OnFileSucceeded(ctx, j, f, elapsed); err != nil {
			r.logHookError("OnFileSucceeded", e.name, err)
		}
	}
}

// EmitFileFailed notifies all extensions that implement FileFailed.
func (r *Registry) EmitFileFailed(ctx context.Context, j *job.Job, f *job.File, fileErr error) {
	for _, e := range r.fileFailed {
		if err := e.hook.OnFileFailed(ctx, j, f, fileErr); err != nil {
			r.logHookError("OnFileFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the scheduler.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
