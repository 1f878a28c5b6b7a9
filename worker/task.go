package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskFunc is a unit of deferred work submitted to a TaskPool
type TaskFunc func(ctx context.Context) (any, error)

// Future is the handle for a submitted task. The result (or error)
// becomes available exactly once, when the task finishes; task errors
// surface only here, never at submission time. There is no mid-flight
// cancellation - callers wanting timeouts pass a bounded context to
// Result.
type Future struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	result any
	err    error
}

// ID returns the task's unique identifier
func (f *Future) ID() string {
	return f.id
}

// Done is closed when the task has finished
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the task finishes or ctx expires, then returns
// the task's result and error.
func (f *Future) Result(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryResult returns the result without blocking. The boolean reports
// whether the task has finished.
func (f *Future) TryResult() (any, error, bool) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err, true
	default:
		return nil, nil, false
	}
}

func (f *Future) complete(result any, err error) {
	f.mu.Lock()
	f.result = result
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

// TaskItem pairs a task with its future inside the underlying pool.
// Exported only so pool options can be typed against it.
type TaskItem struct {
	fn     TaskFunc
	future *Future
}

// TaskPool layers futures over a Pool. It is shared process-wide and
// lazily started on the first submission, so holding one costs nothing
// until deferred execution is actually requested.
type TaskPool struct {
	pool *Pool[*TaskItem]

	startOnce sync.Once
	startErr  error
	ctx       context.Context
}

// TaskPoolOption configures a TaskPool
type TaskPoolOption func(*TaskPool)

// WithContext sets the context workers run under (default Background)
func WithContext(ctx context.Context) TaskPoolOption {
	return func(tp *TaskPool) { tp.ctx = ctx }
}

// NewTaskPool creates a task pool with the given sizing. Metrics options
// are forwarded to the underlying pool.
func NewTaskPool(workers, queueSize int, poolOpts []Option[*TaskItem], opts ...TaskPoolOption) *TaskPool {
	tp := &TaskPool{ctx: context.Background()}
	tp.pool = NewPool(workers, queueSize, runTask, poolOpts...)
	for _, opt := range opts {
		opt(tp)
	}
	return tp
}

// runTask executes a single task, guaranteeing exactly one completion
// per future. Panics are captured into the future's error.
func runTask(ctx context.Context, item *TaskItem) error {
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &taskPanicError{value: r}
			}
		}()
		result, err = item.fn(ctx)
	}()

	item.future.complete(result, err)
	return err
}

type taskPanicError struct {
	value any
}

func (e *taskPanicError) Error() string {
	return "task panic"
}

// Submit enqueues fn for deferred execution and returns its future.
// The pool starts lazily on first use. Submission is non-blocking;
// a full queue fails with ErrQueueFull and no future is created.
func (tp *TaskPool) Submit(fn TaskFunc) (*Future, error) {
	if fn == nil {
		return nil, ErrNilTask
	}

	tp.startOnce.Do(func() {
		tp.startErr = tp.pool.Start(tp.ctx)
	})
	if tp.startErr != nil {
		return nil, tp.startErr
	}

	future := &Future{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}

	if err := tp.pool.Submit(&TaskItem{fn: fn, future: future}); err != nil {
		return nil, err
	}
	return future, nil
}

// Stats returns the underlying pool's statistics
func (tp *TaskPool) Stats() PoolStats {
	return tp.pool.Stats()
}

// Stop drains the queue and stops the workers
func (tp *TaskPool) Stop(timeout time.Duration) error {
	started := false
	tp.startOnce.Do(func() {
		// Never started; mark so future Submits fail cleanly.
		tp.startErr = ErrPoolStopped
	})
	started = tp.startErr == nil
	if !started {
		return nil
	}
	return tp.pool.Stop(timeout)
}
