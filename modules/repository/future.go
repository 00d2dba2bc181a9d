package repository

import (
	"context"

	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// Future is the result of an asynchronous Repository Core operation: a
// context-cancelable wait over a single buffered channel, matching the
// teacher's split between synchronous on-disk work and an external
// worker pool driving it.
type Future[T any] struct {
	ch chan futureResult[T]
}

type futureResult[T any] struct {
	val T
	err error
}

func newFuture[T any]() (*Future[T], func(T, error)) {
	ch := make(chan futureResult[T], 1)
	complete := func(v T, err error) {
		select {
		case ch <- futureResult[T]{val: v, err: err}:
		default:
		}
	}
	return &Future[T]{ch: ch}, complete
}

// Wait blocks for the result or ctx's deadline, whichever comes first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, plumbing.RequestTimeout()
	}
}

// submitAsync runs fn on pool and returns a Future observing its result.
// If ctx is already done, fn is never submitted and the future completes
// immediately with RequestTimeout, honoring the "deadline expired before
// the operation begins a blocking step" failure mode.
func submitAsync[T any](ctx context.Context, pool *workerpool, fn func() (T, error)) *Future[T] {
	future, complete := newFuture[T]()
	if err := ctx.Err(); err != nil {
		var zero T
		complete(zero, plumbing.RequestTimeout())
		return future
	}
	pool.submit(func() {
		v, err := fn()
		complete(v, err)
	})
	return future
}
