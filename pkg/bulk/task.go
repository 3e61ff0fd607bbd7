package bulk

import (
	"context"
	"sync"

	"github.com/3leaps/adfanout/pkg/jobregistry"
)

// Task is the handle for one submitted job run.
type Task struct {
	jobID string
	done  chan struct{}

	once   sync.Once
	record *jobregistry.JobRecord
	err    error
}

func newTask(jobID string) *Task {
	return &Task{jobID: jobID, done: make(chan struct{})}
}

// JobID returns the id of the job the task runs.
func (t *Task) JobID() string {
	return t.jobID
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run finishes or ctx is done. It returns the
// terminal record, or ErrJobDeleted when the record was removed mid-run.
func (t *Task) Wait(ctx context.Context) (*jobregistry.JobRecord, error) {
	select {
	case <-t.done:
		return t.record.Clone(), t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking.
func (t *Task) Result() (*jobregistry.JobRecord, error) {
	select {
	case <-t.done:
		return t.record.Clone(), t.err
	default:
		return nil, ErrTaskPending
	}
}

func (t *Task) finish(record *jobregistry.JobRecord, err error) {
	t.once.Do(func() {
		t.record = record
		t.err = err
		close(t.done)
	})
}
