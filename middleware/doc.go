// Package middleware wraps the execution of a claimed job.
//
// A [Middleware] receives the job and the next [Handler]. [Chain] composes
// them; the first middleware in the list is the outermost wrapper.
//
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Logging(logger),
//	)
//
// # Built-in Middleware
//
//   - [Recover] turns a panic into an error so the job is retried
//   - [Timeout] bounds the command with the job or default timeout
//   - [Tracing] wraps the run in an OpenTelemetry span
//   - [Metrics] records run duration and an ok/error counter
//   - [Logging] logs job id, attempt, duration and outcome
//
// A middleware must call next unless it deliberately short-circuits the run.
package middleware
