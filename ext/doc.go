// Package ext defines the extension system for docbatch.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, journaling transitions or publishing events. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnBatchFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("batch %s %s in %s", j.ID, j.Status, elapsed)
//	    return nil
//	}
//
// # Batch Lifecycle Hooks
//
//   - [BatchCreated]: job stored in status created
//   - [BatchQueued]: job entered the priority queue
//   - [BatchStarted]: a worker moved the job to processing
//   - [BatchPaused]: the job was paused (by request or processor stop)
//   - [BatchResumed]: a paused job was queued again
//   - [BatchFinished]: the job reached completed, failed or partially_failed
//   - [BatchCancelled]: the job was cancelled
//   - [BatchDeleted]: the job was removed
//
// # File Lifecycle Hooks
//
//   - [FileSucceeded] and [FileFailed] fire once per recorded file outcome
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down
//
// Hook errors are logged and never propagated.
package ext
