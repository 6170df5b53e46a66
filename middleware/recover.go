package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/docbatch/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, f *job.File, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("processor panicked",
					slog.String("batch_id", j.ID.String()),
					slog.String("file_id", f.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic processing %s: %v", f.Ref(), r)
			}
		}()
		return next(ctx)
	}
}
