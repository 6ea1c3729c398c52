package amqpmock

import (
	"context"
	"errors"
	"fmt"
)

// ErrOperationPanicked wraps a panic raised while an operation ran on the loop.
var ErrOperationPanicked = errors.New("operation panicked")

// Future is the pending result of an operation submitted to a Broker.
// It resolves exactly once.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func resolvedFuture[T any](value T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(value, err)
	return f
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the future has resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. Cancelling ctx
// abandons the wait; the operation still runs.
//
// Wait must not be called from a message handler: handlers run on the
// broker's loop, and the operation being waited for would never get a turn.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result is Wait without a deadline.
func (f *Future[T]) Result() (T, error) {
	return f.Wait(context.Background())
}

// Err waits for the future and returns only its error.
func (f *Future[T]) Err() error {
	_, err := f.Result()
	return err
}

// submit runs op on the broker's loop and resolves the returned future with
// its outcome. After Close the future resolves immediately with ErrClosed.
//
// Queue deletions requested by earlier operations are applied once op has
// run, whether or not it failed.
func submit[T any](b *Broker, op func() (T, error)) *Future[T] {
	f := newFuture[T]()

	err := b.loop.Submit(func() {
		var (
			value T
			err   error
		)
		deletes := b.takePendingDeletes()
		defer func() {
			if r := recover(); r != nil {
				var zero T
				value, err = zero, fmt.Errorf("%w: %v", ErrOperationPanicked, r)
			}
			b.applyDeletes(deletes)
			f.resolve(value, err)
		}()
		value, err = op()
	})
	if err != nil {
		var zero T
		f.resolve(zero, ErrClosed)
	}
	return f
}

// submitErr is submit for operations with no result value.
func submitErr(b *Broker, op func() error) *Future[struct{}] {
	return submit(b, func() (struct{}, error) {
		return struct{}{}, op()
	})
}
