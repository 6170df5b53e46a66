// Package worker provides the batch execution engine: an Executor that
// runs one file through middleware and the Processor, a Runner that fans a
// job out over its files, and a Pool of worker goroutines draining the
// priority queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/backoff"
	"github.com/xraph/docbatch/job"
	"github.com/xraph/docbatch/middleware"
)

// Executor runs a single file through the middleware chain and the
// processor, retrying failed attempts with backoff.
type Executor struct {
	processor Processor
	backoff   backoff.Strategy
	retries   int
	mw        middleware.Middleware
	logger    *slog.Logger
}

// NewExecutor creates an Executor. retries is the number of extra attempts
// after a failure; a nil bo uses backoff.DefaultStrategy.
func NewExecutor(
	processor Processor,
	bo backoff.Strategy,
	retries int,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		processor: processor,
		backoff:   bo,
		retries:   max(retries, 0),
		mw:        middleware.Chain(mws...),
		logger:    logger,
	}
}

// Execute processes f, a snapshot of a file of j. A failure after the last
// attempt is returned as a *docbatch.ProcessingError. Panics never escape.
func (e *Executor) Execute(ctx context.Context, j *job.Job, f *job.File) (*job.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, e.backoff, attempt); err != nil {
				break
			}
			e.logger.Debug("retrying file",
				slog.String("batch_id", j.ID.String()),
				slog.String("file_id", f.ID.String()),
				slog.Int("retry", attempt),
				slog.String("last_error", lastErr.Error()),
			)
		}

		res, err := e.attempt(ctx, j, f)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, docbatch.NewProcessingError(f.ID, lastErr)
}

func (e *Executor) attempt(ctx context.Context, j *job.Job, f *job.File) (res *job.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic processing %s: %v", f.Ref(), r)
		}
	}()

	err = e.mw(ctx, j, f, func(ctx context.Context) error {
		out, perr := e.processor.ProcessFile(ctx, f, j.ProcessingOptions)
		if perr != nil {
			return perr
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &job.Result{}
	}
	return res, nil
}
