// Package queuectl is a durable, polling-based job queue for shell commands.
//
// Producers enqueue commands with a retry limit. Worker processes claim
// pending jobs from a shared store, execute them, and finalize each one:
// completed on exit status zero, rescheduled with exponential backoff on
// failure, or moved to the dead letter store once retries are exhausted.
//
// # Architecture
//
// Each subsystem (job, dlq, settings) defines its own store interface and a
// single backend implements all of them. Backends live under store/: MongoDB,
// PostgreSQL, Redis and an in-memory store for tests. Mutual exclusion
// between workers comes only from the store's atomic claim.
//
// The worker package runs the claim-execute-finalize loop, the supervisor
// package spawns and stops worker processes, and the engine package wires
// everything behind the operations exposed by cmd/queuectl.
package queuectl
