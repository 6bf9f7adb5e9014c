package scheduler

import "context"

// Job is a unit of work run by the worker pool.
type Job interface {
	// Execute runs the job. ctx carries the per-job timeout.
	Execute(ctx context.Context) error

	// ConnectionID is the connection the job acts on, used for logging.
	ConnectionID() string

	// Description returns a human-readable description of the job.
	Description() string
}
