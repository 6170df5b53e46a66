package middleware

import (
	"context"

	"github.com/xraph/docbatch/job"
	"github.com/xraph/docbatch/scope"
)

// Scope returns middleware that restores the job's tenant and user into
// the context, so processors see the identity of the caller that created
// the job.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, _ *job.File, next Handler) error {
		return next(scope.Restore(ctx, j.TenantID, j.UserID))
	}
}
