package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the per-job timeout.
	Execute(ctx context.Context) error

	// UserID returns the user whose data the job touches, for logging.
	UserID() string

	// Description returns a human-readable description of the job.
	Description() string
}
