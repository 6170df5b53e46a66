// Package docbatch is an in-process batch scheduler for document
// processing. A batch job groups one or more files; the scheduler queues
// jobs by priority, dispatches them to a bounded worker pool with
// per-tenant fairness, fans each job out over its files, and aggregates
// per-file outcomes into job progress and a terminal summary.
//
// docbatch is a library, not a service. The root package holds the shared
// configuration, error taxonomy and entity metadata; the engine package
// wires the subsystems together.
//
// # Quick Start
//
//	eng, err := engine.New(processor.NewLocal("/srv/docs"),
//	    engine.WithConfig(docbatch.DefaultConfig()),
//	)
//	if err != nil { ... }
//	_ = eng.StartProcessor(ctx)
//
//	j, err := eng.CreateBatchJob(ctx, job.CreateRequest{
//	    Name:      "statements",
//	    TenantID:  "acme",
//	    Files:     []job.FileInput{{SourcePath: "jan.pdf"}, {SourcePath: "feb.pdf"}},
//	    AutoQueue: true,
//	})
//
// # Architecture
//
// Jobs live in a job.Store (store/memory by default) that serializes
// updates per job. Queued job ids sit in a queue.PriorityQueue ordered by
// priority tier then submission order. worker.Pool drains the queue,
// progress.Tracker folds file outcomes back into the store, and
// maintenance.Janitor removes aged terminal jobs.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package docbatch
