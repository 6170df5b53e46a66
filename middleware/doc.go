// Package middleware provides composable middleware for per-file
// processing.
//
// A [Middleware] wraps the call that processes one file of a batch job.
// Middleware are composed into a chain using [Chain] and applied around
// every processing attempt. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → processor
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs batch id, file id and outcome for each attempt
//   - [Recover] catches processor panics and converts them to errors
//   - [Timeout] cancels the attempt context after a fixed duration
//   - [Tracing] wraps each attempt in an OpenTelemetry span
//   - [Metrics] records per-file duration and outcome counters
//   - [Scope] restores the job's tenant and user into the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, f *job.File, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
