package flow

import (
	"context"
	"log/slog"
	"sync"
)

// Scheduler posts a task to run on a later turn.
// Post returns false if the task was not accepted.
type Scheduler interface {
	Post(task func()) bool
}

// taskQueue is an unbounded FIFO of posted tasks.
//
// Unbounded so that continuations posted from inside a running task never
// block the poster. Post may be called from any goroutine; only the loop
// goroutine dequeues.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

func (q *taskQueue) enqueue(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)

	// Non-blocking; the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *taskQueue) tryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]

	// Release the closure so its captures can be collected.
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return task, true
}

// wait returns a channel that signals when tasks may be available.
// It is closed once the queue is closed.
func (q *taskQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *taskQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Loop is a single-threaded cooperative scheduler.
//
// Tasks posted to the loop run one at a time, in posting order, on whichever
// goroutine drives it (RunOnce, Drain, Await or Run). Each task is one turn;
// the loop's Clock is ticked before the task starts.
type Loop struct {
	queue  *taskQueue
	clock  *Clock
	logger *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger used for lifecycle messages.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithLoopClock sets the turn counter.
func WithLoopClock(clock *Clock) LoopOption {
	return func(l *Loop) {
		l.clock = clock
	}
}

// NewLoop creates an empty loop.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		queue:  newTaskQueue(),
		clock:  NewClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post appends a task. Safe to call from any goroutine.
// Returns false after Stop.
func (l *Loop) Post(task func()) bool {
	return l.queue.enqueue(task)
}

// Turn returns the number of tasks run so far.
func (l *Loop) Turn() int64 {
	return l.clock.Current()
}

// Clock returns the loop's turn counter.
func (l *Loop) Clock() *Clock {
	return l.clock
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return l.queue.len()
}

// RunOnce runs the oldest queued task, if any, and reports whether it ran one.
func (l *Loop) RunOnce() bool {
	task, ok := l.queue.tryDequeue()
	if !ok {
		return false
	}
	l.clock.Next()
	task()
	return true
}

// Drain runs tasks until the queue is empty, including tasks posted while
// draining. Returns the number of tasks run.
func (l *Loop) Drain() int {
	n := 0
	for l.RunOnce() {
		n++
	}
	return n
}

// Await drives the loop until f settles, then returns its outcome.
//
// When the queue is empty Await blocks until another goroutine posts a task,
// f settles, or ctx is done.
func (l *Loop) Await(ctx context.Context, f *Future) (any, error) {
	for {
		if f.Settled() {
			return f.Value(), f.Reason()
		}
		if l.RunOnce() {
			continue
		}

		// After Stop the signal channel is closed; waiting on it would spin.
		if l.queue.isClosed() {
			return f.Await(ctx)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.Done():
		case <-l.queue.wait():
		}
	}
}

// Run processes tasks until ctx is cancelled or Stop is called and the queue
// drains.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("loop starting")

	for {
		if l.RunOnce() {
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("loop stopping: context cancelled", "turn", l.Turn())
			l.queue.close()
			return ctx.Err()

		case <-l.queue.wait():
			// A closed signal channel fires immediately.
			if l.queue.isClosed() && l.queue.len() == 0 {
				l.logger.Info("loop stopping: queue closed", "turn", l.Turn())
				return nil
			}
		}
	}
}

// Stop closes the queue. Tasks already queued still run; later Posts fail.
func (l *Loop) Stop() {
	l.queue.close()
}

// Go runs fn on a new goroutine and returns a future for its result.
//
// The future is settled through s so continuations run on the scheduler's
// goroutine. If s is nil or refuses the task, the future settles on the
// worker goroutine instead.
func Go(s Scheduler, fn func() (any, error)) *Future {
	f := NewFuture()
	go func() {
		v, err := fn()
		settle := func() {
			if err != nil {
				f.Reject(err)
				return
			}
			f.Resolve(v)
		}
		if s == nil || !s.Post(settle) {
			settle()
		}
	}()
	return f
}
