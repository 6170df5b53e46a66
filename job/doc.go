// Package job defines the batch job entity, its files, the status state
// machine, and the store interface.
//
// # Batch Job
//
// A [Job] groups one or more [File] entries that are processed together.
// It embeds [docbatch.Entity] for timestamps and progresses through a
// closed state machine:
//
//	created → queued → processing → completed | failed | partially_failed
//	processing → paused → queued → ...
//	queued | processing | paused → cancelled
//
// Terminal states (completed, failed, partially_failed, cancelled) accept
// no further transitions. [Status.CanTransition] is the single source of
// truth; [Job.Transition] applies a checked transition and stamps the
// lifecycle timestamps.
//
// Counters are derived from file statuses: ProcessedFiles counts files
// that reached succeeded or failed, FailedFiles the failed subset, and
// Progress is ProcessedFiles/TotalFiles as a rounded percentage.
//
// # Creating a Job
//
// [New] validates a [CreateRequest] and returns a job in the created
// state with every file pending:
//
//	j, err := job.New(job.CreateRequest{
//	    Name:     "q3-statements",
//	    TenantID: "acme",
//	    Priority: job.PriorityHigh,
//	    Files:    []job.FileInput{{SourcePath: "q3/jul.pdf"}},
//	}, job.Limits{MaxFiles: 100})
//
// # Store
//
// [Store] persists jobs. UpdateJob applies a mutator atomically per job;
// see store/memory for the in-process implementation.
package job
