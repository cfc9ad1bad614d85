// Command queuectl is a durable background job queue for shell commands.
//
// Subcommands:
//
//	enqueue      add a job from a JSON object
//	list         list jobs in one state
//	status       counts per state and registered workers
//	dlq          list or retry dead letter entries
//	config       read or change queue settings
//	worker       start, stop or run worker processes
//	recover      requeue jobs stuck in processing
//	ping         check store connectivity
package main

import (
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
