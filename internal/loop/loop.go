// Package loop provides a single-goroutine task executor.
//
// Tasks run one at a time, strictly in the order they were queued. State that
// is only touched from inside tasks therefore needs no further locking.
package loop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Submit once Close has been called.
var ErrClosed = errors.New("loop closed")

// Loop executes queued tasks on a dedicated goroutine.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	closed  bool
	stopped bool
	done    chan struct{}
	logger  *zap.Logger
}

// New starts a loop. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{
		done:   make(chan struct{}),
		logger: logger,
	}
	l.cond = sync.NewCond(&l.mu)

	go l.run()
	return l
}

// Submit queues task at the back of the queue.
// It returns ErrClosed after Close has been called.
func (l *Loop) Submit(task func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.tasks = append(l.tasks, task)
	l.cond.Signal()
	return nil
}

// Defer queues task at the back of the queue, even while Close is draining.
// It is meant for tasks scheduled by other tasks. Tasks deferred after the
// loop has stopped are dropped.
func (l *Loop) Defer(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		l.logger.Warn("Dropping task deferred after loop stopped")
		return
	}
	l.tasks = append(l.tasks, task)
	l.cond.Signal()
}

// Pending returns the number of queued tasks that have not started yet.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Idle blocks until the queue is empty, including tasks queued by tasks that
// ran in the meantime. It must not be called from inside a task.
func (l *Loop) Idle(ctx context.Context) error {
	reached := make(chan struct{})

	var barrier func()
	barrier = func() {
		if l.Pending() > 0 {
			l.Defer(barrier)
			return
		}
		close(reached)
	}

	if err := l.Submit(barrier); err != nil {
		// Closed: idle once the drain has finished
		reached = l.done
	}

	select {
	case <-reached:
		return nil
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new tasks, runs everything already queued and waits
// for the goroutine to exit. It must not be called from inside a task.
func (l *Loop) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	<-l.done
	return nil
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.tasks) == 0 {
			l.stopped = true
			l.mu.Unlock()
			l.logger.Debug("Loop stopped")
			return
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.execute(task)
	}
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}
