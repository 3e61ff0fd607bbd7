package bulk

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultWorkers is the executor size when none is configured.
const DefaultWorkers = 4

// DefaultQueueSize bounds the number of runs waiting for a worker.
const DefaultQueueSize = 1024

// Runner executes job runs in the background.
type Runner interface {
	Go(fn func(ctx context.Context)) error
}

// Executor is a fixed-size worker pool.
//
// Stop cancels the context handed to running work, then drains the queue
// so every accepted run still executes (with a cancelled context) and can
// record a terminal state.
type Executor struct {
	workers int
	queue   chan func(context.Context)
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewExecutor creates an executor. workers or queueSize <= 0 use defaults.
func NewExecutor(workers, queueSize int, logger *zap.Logger) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		workers: workers,
		queue:   make(chan func(context.Context), queueSize),
		logger:  logger,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.run(ctx)
	}
	e.logger.Info("Executor started", zap.Int("workers", e.workers))
}

// Go queues fn. It never blocks.
func (e *Executor) Go(fn func(ctx context.Context)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrExecutorStopped
	}
	select {
	case e.queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels running work, drains the queue and waits for the workers.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.queue)
	started := e.started
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	if !started {
		// Nothing ever consumed the queue; run what was accepted inline.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		for fn := range e.queue {
			fn(ctx)
		}
		return
	}
	e.wg.Wait()
	e.logger.Info("Executor stopped")
}

func (e *Executor) run(ctx context.Context) {
	defer e.wg.Done()
	for fn := range e.queue {
		fn(ctx)
	}
}
