// Package progress records per-file outcomes against batch jobs and
// finalizes jobs once every file is resolved. All mutations go through
// job.Store.UpdateJob, so concurrent outcomes for the same job never lose
// an update.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
)

// Outcome is the result of processing one file.
type Outcome struct {
	// Result is the processor output for a succeeded file.
	Result *job.Result
	// Err is the failure for a failed file. A nil Err means success.
	Err error
}

// Tracker updates file and job progress.
type Tracker struct {
	store  job.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker over store.
func NewTracker(store job.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BeginFile moves a pending file to processing and counts the attempt.
// It fails with docbatch.ErrJobNotRunning when the job is not processing,
// which is how workers notice a pause or cancel between files.
func (t *Tracker) BeginFile(ctx context.Context, jobID id.BatchID, fileID id.FileID) (*job.Job, error) {
	return t.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			return fmt.Errorf("%w: %s is %s", docbatch.ErrJobNotRunning, jobID, j.Status)
		}
		f := j.File(fileID)
		if f == nil {
			return fmt.Errorf("%w: %s", docbatch.ErrFileNotFound, fileID)
		}
		if f.Status != job.FilePending {
			return fmt.Errorf("%w: %s is %s", docbatch.ErrFileNotInFlight, fileID, f.Status)
		}
		now := t.now()
		f.Status = job.FileProcessing
		f.Attempts++
		f.StartedAt = &now
		f.CompletedAt = nil
		f.Error = ""
		f.Result = nil
		j.Touch(now)
		return nil
	})
}

// RecordFileOutcome stores the outcome of an in-flight file and
// recomputes the job's counters. Outcomes are accepted while the job is
// processing, paused, or queued again after a resume; the pool does not
// admit the next run of a job until its previous run has drained. On a
// cancelled job the outcome is discarded and the file returns to pending.
func (t *Tracker) RecordFileOutcome(ctx context.Context, jobID id.BatchID, fileID id.FileID, out Outcome) (*job.Job, error) {
	return t.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		f := j.File(fileID)
		if f == nil {
			return fmt.Errorf("%w: %s", docbatch.ErrFileNotFound, fileID)
		}
		if f.Status != job.FileProcessing {
			return fmt.Errorf("%w: %s is %s", docbatch.ErrFileNotInFlight, fileID, f.Status)
		}

		now := t.now()
		switch j.Status {
		case job.StatusCancelled:
			resetFile(f)
			j.Touch(now)
			return nil
		case job.StatusProcessing, job.StatusPaused, job.StatusQueued:
		default:
			return fmt.Errorf("%w: %s is %s", docbatch.ErrJobNotRunning, jobID, j.Status)
		}

		f.CompletedAt = &now
		if out.Err != nil {
			f.Status = job.FileFailed
			f.Error = out.Err.Error()
			f.Result = nil
		} else {
			f.Status = job.FileSucceeded
			f.Error = ""
			f.Result = out.Result
		}
		j.Touch(now)
		return nil
	})
}

// AbandonFile returns an in-flight file to pending so a later run picks it
// up again. Files that are not in flight are left alone.
func (t *Tracker) AbandonFile(ctx context.Context, jobID id.BatchID, fileID id.FileID) (*job.Job, error) {
	return t.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		f := j.File(fileID)
		if f == nil {
			return fmt.Errorf("%w: %s", docbatch.ErrFileNotFound, fileID)
		}
		if f.Status == job.FileProcessing {
			resetFile(f)
			j.Touch(t.now())
		}
		return nil
	})
}

// Finalize moves a processing job with no unresolved files to its terminal
// status and attaches the summary.
func (t *Tracker) Finalize(ctx context.Context, jobID id.BatchID) (*job.Summary, *job.Job, error) {
	j, err := t.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			return fmt.Errorf("%w: %s is %s", docbatch.ErrJobNotRunning, jobID, j.Status)
		}
		if n := j.Unresolved(); n > 0 {
			return fmt.Errorf("%w: %d of %d", docbatch.ErrFilesUnresolved, n, len(j.Files))
		}
		j.Recount()
		if err := j.Transition(j.OutcomeStatus(), t.now()); err != nil {
			return err
		}
		j.Summary = j.BuildSummary()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	t.logger.Info("batch finalized",
		slog.String("batch_id", j.ID.String()),
		slog.String("status", string(j.Status)),
		slog.Int("succeeded", j.Summary.SucceededFiles),
		slog.Int("failed", j.Summary.FailedFiles),
		slog.Duration("duration", j.Summary.Duration),
	)
	return j.Summary, j, nil
}

func resetFile(f *job.File) {
	f.Status = job.FilePending
	f.StartedAt = nil
	f.CompletedAt = nil
	f.Error = ""
	f.Result = nil
}
