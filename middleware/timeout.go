package middleware

import (
	"context"
	"time"

	"github.com/xraph/docbatch/job"
)

// Timeout returns middleware that bounds each processing attempt to d.
// When the deadline is exceeded the context is cancelled and the processor
// should return context.DeadlineExceeded. A non-positive d disables the
// deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, _ *job.File, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
