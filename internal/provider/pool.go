package provider

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrent blocking SDK calls.
// Adapters wrapping synchronous clients run their calls through it.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool creates a pool with size workers
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the worker count
func (p *Pool) Size() int {
	return int(p.size)
}

type result[T any] struct {
	val T
	err error
}

// Submit runs fn on a pool slot. If ctx ends first the call returns ctx.Err()
// and fn's eventual result is discarded; the slot is released when fn returns.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("sdk call panicked: %v", r)}
			}
		}()
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.val, r.err
	}
}
