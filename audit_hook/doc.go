// Package audithook is a queuectl extension that turns job lifecycle
// events into an append-only audit trail.
//
// Every job hook emits a structured [AuditEvent] through the [Recorder]
// interface, with a severity (info for normal operations, warning for
// retries, critical for failures and dead letters) and metadata such as
// the command, attempt count and elapsed time.
//
// # JSON lines file
//
// The CLI enables it when QUEUECTL_AUDIT_LOG names a file:
//
//	f, _ := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
//	engine.Build(q, engine.WithExtension(audithook.New(audithook.NewJSONLines(f))))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDLQ,
//	    ),
//	)
package audithook
