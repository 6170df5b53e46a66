package worker

import (
	"context"

	"github.com/xraph/docbatch/job"
)

// Processor does the per-document work. Implementations must honor ctx
// cancellation; the scheduler never interrupts a call any other way.
type Processor interface {
	ProcessFile(ctx context.Context, f *job.File, options map[string]any) (*job.Result, error)
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc func(ctx context.Context, f *job.File, options map[string]any) (*job.Result, error)

// ProcessFile calls fn.
func (fn ProcessorFunc) ProcessFile(ctx context.Context, f *job.File, options map[string]any) (*job.Result, error) {
	return fn(ctx, f, options)
}
