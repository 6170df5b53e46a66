package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/ext"
	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
	"github.com/xraph/docbatch/progress"
)

// Runner drives one batch job from queued to a terminal or paused state.
type Runner struct {
	store           job.Store
	tracker         *progress.Tracker
	executor        *Executor
	extensions      *ext.Registry
	fileConcurrency int
	logger          *slog.Logger
}

// NewRunner creates a Runner. fileConcurrency bounds how many files of one
// job are processed at once.
func NewRunner(
	store job.Store,
	tracker *progress.Tracker,
	executor *Executor,
	extensions *ext.Registry,
	fileConcurrency int,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Runner{
		store:           store,
		tracker:         tracker,
		executor:        executor,
		extensions:      extensions,
		fileConcurrency: max(fileConcurrency, 1),
		logger:          logger,
	}
}

// Run processes the pending files of a dequeued job. Closing stop makes the
// run finish its in-flight files and suspend; cancelling ctx also aborts
// the in-flight calls. A job that is no longer queued is skipped.
//
// Store writes use a context detached from ctx so an aborted run can still
// record where it stopped.
func (r *Runner) Run(ctx context.Context, jobID id.BatchID, stop <-chan struct{}) error {
	persist := context.WithoutCancel(ctx)

	j, err := r.store.UpdateJob(persist, jobID, func(j *job.Job) error {
		if j.Status != job.StatusQueued {
			return fmt.Errorf("%w: %s is %s", docbatch.ErrJobNotRunning, jobID, j.Status)
		}
		return j.Transition(job.StatusProcessing, time.Now().UTC())
	})
	if err != nil {
		if errors.Is(err, docbatch.ErrNotFound) || errors.Is(err, docbatch.ErrConflict) {
			r.logger.Debug("run skipped",
				slog.String("batch_id", jobID.String()),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return err
	}
	r.extensions.EmitBatchStarted(persist, j)

	start := time.Now()
	var halted atomic.Bool

	var g errgroup.Group
	g.SetLimit(r.fileConcurrency)

	for _, fileID := range j.PendingFiles() {
		if halted.Load() || ctx.Err() != nil || closed(stop) {
			break
		}
		g.Go(func() error {
			if halted.Load() || closed(stop) {
				return nil
			}
			if !r.runFile(ctx, persist, jobID, fileID) {
				halted.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	return r.settle(persist, jobID, time.Since(start))
}

// runFile processes one file and reports whether the run may continue.
func (r *Runner) runFile(ctx, persist context.Context, jobID id.BatchID, fileID id.FileID) bool {
	j, err := r.tracker.BeginFile(persist, jobID, fileID)
	if err != nil {
		if !errors.Is(err, docbatch.ErrJobNotRunning) && !errors.Is(err, docbatch.ErrNotFound) {
			r.logger.Error("begin file",
				slog.String("batch_id", jobID.String()),
				slog.String("file_id", fileID.String()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	snapshot := *j.File(fileID)

	started := time.Now()
	res, procErr := r.executor.Execute(ctx, j, &snapshot)
	elapsed := time.Since(started)

	if procErr != nil && ctx.Err() != nil {
		if _, err := r.tracker.AbandonFile(persist, jobID, fileID); err != nil && !errors.Is(err, docbatch.ErrNotFound) {
			r.logger.Error("abandon file",
				slog.String("batch_id", jobID.String()),
				slog.String("file_id", fileID.String()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	j, err = r.tracker.RecordFileOutcome(persist, jobID, fileID, progress.Outcome{Result: res, Err: procErr})
	if err != nil {
		if !errors.Is(err, docbatch.ErrNotFound) {
			r.logger.Error("record file outcome",
				slog.String("batch_id", jobID.String()),
				slog.String("file_id", fileID.String()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	f := j.File(fileID)
	switch f.Status {
	case job.FileSucceeded:
		r.extensions.EmitFileSucceeded(persist, j, f, elapsed)
	case job.FileFailed:
		r.extensions.EmitFileFailed(persist, j, f, procErr)
	}
	return j.Status == job.StatusProcessing
}

// settle finalizes a job whose files are all resolved, or suspends a job
// that is still processing with files left over.
func (r *Runner) settle(persist context.Context, jobID id.BatchID, elapsed time.Duration) error {
	_, j, err := r.tracker.Finalize(persist, jobID)
	switch {
	case err == nil:
		r.extensions.EmitBatchFinished(persist, j, elapsed)
		return nil
	case errors.Is(err, docbatch.ErrFilesUnresolved):
		return r.suspend(persist, jobID)
	case errors.Is(err, docbatch.ErrJobNotRunning), errors.Is(err, docbatch.ErrNotFound):
		// Paused, cancelled or deleted while running.
		return nil
	default:
		return err
	}
}

func (r *Runner) suspend(persist context.Context, jobID id.BatchID) error {
	j, err := r.store.UpdateJob(persist, jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			return fmt.Errorf("%w: %s is %s", docbatch.ErrJobNotRunning, jobID, j.Status)
		}
		if err := j.Transition(job.StatusPaused, time.Now().UTC()); err != nil {
			return err
		}
		j.PauseReason = job.PauseStopped
		return nil
	})
	if err != nil {
		if errors.Is(err, docbatch.ErrJobNotRunning) || errors.Is(err, docbatch.ErrNotFound) {
			return nil
		}
		return err
	}

	r.logger.Info("batch suspended",
		slog.String("batch_id", j.ID.String()),
		slog.Int("processed", j.ProcessedFiles),
		slog.Int("total", j.TotalFiles),
	)
	r.extensions.EmitBatchPaused(persist, j)
	return nil
}

func closed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
