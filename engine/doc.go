// Package engine wires all docbatch subsystems together and provides the
// application-level API for submitting and controlling batch jobs.
//
// The engine package exists to break a fundamental import cycle: the root
// docbatch package defines the error taxonomy and Entity (imported by job,
// progress, queue, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	eng, err := engine.New(processor.NewLocal("/srv/docs"),
//	    engine.WithConfig(cfg),
//	    engine.WithExtension(broker),
//	    engine.WithJournal(journal.NewMemory(nil)),
//	    engine.WithTenantConfig(queue.TenantConfig{
//	        TenantID:       "acme",
//	        MaxConcurrency: 2,
//	    }),
//	)
//
// # Submitting Work
//
//	j, err := eng.CreateBatchJob(ctx, job.CreateRequest{
//	    Files: []job.FileInput{{SourcePath: "a.pdf"}},
//	})
//	j, err = eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{Priority: job.PriorityUrgent})
//
// # Processor Lifecycle
//
// StartProcessor and StopProcessor are idempotent and may be called any
// number of times. Stopping drains in-flight files; at the shutdown
// deadline the remaining calls are cancelled, their files go back to
// pending, and the interrupted jobs are paused. The next StartProcessor
// queues those jobs again.
//
// # Options
//
//   - [WithConfig]: replace docbatch.DefaultConfig()
//   - [WithStore]: set the job store (in-memory by default)
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the file processing chain
//   - [WithBackoff]: set the file retry backoff strategy
//   - [WithTenantConfig]: configure per-tenant caps and rate limits
//   - [WithJournal]: record transitions to a journal
//   - [WithTracerProvider], [WithMeterProvider]: set OpenTelemetry providers
package engine
