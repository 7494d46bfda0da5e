// Package workpool runs CPU-bound risk calculations on a bounded number of
// goroutines. Callers submit work and await a Future.
package workpool

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent work with a weighted semaphore.
type Pool struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

// New creates a pool running at most size tasks at once. size <= 0 uses
// GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Await blocks until the task finishes or ctx is done. A cancelled wait does
// not stop the task; cancel the context passed to Submit for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the task has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Submit schedules fn on the pool. If ctx is cancelled before a slot frees up,
// the future resolves with ctx.Err() and fn never runs.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.err = err
			return
		}
		defer p.sem.Release(1)
		p.inFlight.Add(1)
		defer p.inFlight.Add(-1)
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Result pairs an output with the error that produced it.
type Result[R any] struct {
	Value R
	Err   error
}

// Map runs fn over items on the pool and returns per-item results in input
// order. A failing item does not stop the others. If ctx is cancelled, Map
// returns ctx.Err() and no results.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) ([]Result[R], error) {
	out := make([]Result[R], len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			fut := Submit(gctx, p, func(c context.Context) (R, error) { return fn(c, item) })
			v, err := fut.Await(gctx)
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			out[i] = Result[R]{Value: v, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
