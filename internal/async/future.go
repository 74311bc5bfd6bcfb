package async

import (
	"context"
	"sync"
)

// Future is a write-once result that any number of goroutines can wait on.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewFuture returns an incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already resolved with v.
func Completed[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v, nil)
	return f
}

// Failed returns a future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Complete resolves the future. Only the first call has an effect; it
// reports whether this call won.
func (f *Future[T]) Complete(v T, err error) bool {
	won := false
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
		won = true
	})
	return won
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the resolved value without waiting. It must only be
// called after Done is closed.
func (f *Future[T]) Result() (T, error) {
	return f.val, f.err
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Signal is a future carrying only completion.
type Signal = Future[struct{}]

// DoneSignal returns a signal that is already complete.
func DoneSignal() *Signal {
	return Completed(struct{}{})
}

// WaitAll blocks until every signal is complete or ctx is done.
func WaitAll(ctx context.Context, signals ...*Signal) error {
	for _, s := range signals {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
