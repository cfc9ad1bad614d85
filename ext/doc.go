// Package ext defines the extension system for queuectl.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or writing logs. Each lifecycle hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    slog.Info("job completed", "job_id", j.ID, "elapsed", elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: worker claimed the job and is about to run it
//   - [JobCompleted]: command exited with status zero
//   - [JobFailed]: command failed with no retries remaining
//   - [JobRetrying]: command failed and the job was rescheduled
//   - [JobDLQ]: job was moved to the dead letter store
//   - [JobReplayed]: dead-lettered job was put back on the queue
//
// # Other Hooks
//
//   - [Shutdown]: a worker is stopping gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
