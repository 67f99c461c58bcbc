// Package bitmap memoizes decoded tile bitmaps and bounds concurrent decode
// work.
package bitmap

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the decode pool size used when none is configured.
const DefaultWorkers = 4

// Pool limits the number of concurrent decodes. One pool is shared by every
// memo and by capture.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a decode pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(workers)),
		size: workers,
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn once a worker slot is free. It returns ctx.Err() if ctx ends
// while waiting.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
