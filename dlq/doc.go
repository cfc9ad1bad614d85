// Package dlq provides the dead letter store for jobs that exhausted their
// retries.
//
// When a failed job's attempts reach its retry limit, the worker calls
// [Service.Move]: the job snapshot, with state dead and the command's error
// output, is written to the dead letter store and then removed from the
// active queue.
//
// # Retry
//
// [Service.Retry] re-enqueues an entry under its original ID with attempts
// reset to zero, so the job gets its full retry budget again.
package dlq
