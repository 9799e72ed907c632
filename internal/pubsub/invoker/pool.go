package invoker

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many synchronous handlers run at once across every
// subscription. Waiting callers block on their own goroutine, never on the
// goroutine that receives from the broker.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with size slots.
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", size)
	}

	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}, nil
}

// Do runs fn once a slot is free. ctx only bounds the wait for a slot; fn
// itself is never interrupted.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire worker: %w", err)
	}
	defer p.sem.Release(1)

	return fn()
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}
