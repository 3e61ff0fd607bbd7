package bulk

import "errors"

// Pre-flight errors. Submit returns these synchronously and creates no job.
var (
	// ErrAuthNotInitialized indicates the platform client has no usable
	// credentials.
	ErrAuthNotInitialized = errors.New("platform auth not initialized")

	// ErrTemplateNotFound indicates the request's template could not be
	// resolved.
	ErrTemplateNotFound = errors.New("template not found")
)

var (
	// ErrJobDeleted finishes a Task whose record was deleted mid-run.
	ErrJobDeleted = errors.New("job deleted while running")

	// ErrTaskPending is returned by Task.Result before the run finishes.
	ErrTaskPending = errors.New("task still running")

	// ErrExecutorStopped is returned when work is handed to a stopped
	// executor.
	ErrExecutorStopped = errors.New("executor stopped")

	// ErrQueueFull is returned when the executor queue has no room.
	ErrQueueFull = errors.New("executor queue full")
)
