// Package job defines the job entity, its state machine, and the store
// interface for the active queue.
//
// # Job Entity
//
// A [Job] is a shell command with a retry limit. It progresses through:
//
//	pending → processing → completed
//	pending → processing → pending      (failed, rescheduled with backoff)
//	pending → processing → dead         (failed, retries exhausted)
//
// Dead jobs leave the active queue and live in the dlq package.
//
// # Claiming
//
// Workers never lock jobs in process. [Store.ClaimJob] is a single atomic
// store operation; two workers racing for the same job see exactly one
// winner.
package job
