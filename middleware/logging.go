package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/docbatch/job"
)

// Logging returns middleware that logs the start and outcome of each
// processing attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, f *job.File, next Handler) error {
		logger.Debug("file started",
			slog.String("batch_id", j.ID.String()),
			slog.String("file_id", f.ID.String()),
			slog.String("source", f.Ref()),
			slog.Int("attempt", f.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("file failed",
				slog.String("batch_id", j.ID.String()),
				slog.String("file_id", f.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("file processed",
				slog.String("batch_id", j.ID.String()),
				slog.String("file_id", f.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
