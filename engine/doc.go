// Package engine wires the queuectl subsystems together and provides the
// operations behind every CLI command.
//
// The engine package exists to break an import cycle: the root queuectl
// package defines the sentinel errors used by job, dlq, settings and every
// store backend, and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	q, err := queuectl.New(
//	    queuectl.WithStore(mongoStore),
//	    queuectl.WithConfig(cfg),
//	    queuectl.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(q,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Enqueuing Jobs
//
//	req, err := engine.ParseEnqueueRequest(`{"id":"job-1","command":"sleep 2","max_retries":5}`)
//	j, err := eng.Enqueue(ctx, req)
//
//	// Or with functional options.
//	j, err := eng.EnqueueCommand(ctx, "echo hello", job.WithMaxRetries(1))
//
// # Running a Worker
//
//	w := eng.NewWorker(worker.WithIndex(0))
//	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//	err := w.Run(ctx)
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: set the retry backoff strategy
//   - [WithRunner]: replace the command runner
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
