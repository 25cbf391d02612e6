package dynamo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Throttler is a compute backend with its own internal parallelism.
// SetWorkers installs a new worker count and returns the previous one.
type Throttler interface {
	SetWorkers(n int) int
}

// Pool runs per-stage work on a fixed number of workers. The size is chosen
// at construction and never changes.
type Pool struct {
	workers  int
	throttle Throttler
}

func NewPool(workers int, throttle Throttler) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, throttle: throttle}
}

func (p *Pool) Workers() int { return p.workers }

// ForEach calls fn once for every index in [0, n). Indices are handed out
// through a shared counter, so each worker keeps pulling until the range is
// drained. worker is in [0, Workers()) and identifies the caller's private
// context. The first error (or recovered panic) stops the remaining work.
//
// While ForEach runs the throttler is held at one worker; the previous
// value is restored on every return path.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(worker, i int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	if p.throttle != nil {
		prev := p.throttle.SetWorkers(1)
		defer p.throttle.SetWorkers(prev)
	}

	g, gctx := errgroup.WithContext(ctx)
	var next atomic.Int64

	workers := min(p.workers, n)
	for w := 0; w < workers; w++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: worker %d panicked: %v", ErrUnstable, w, r)
				}
			}()
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := fn(w, i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// ParallelFor executes fn over [0, n) split into contiguous chunks, using at
// most workers goroutines and at least minChunk indices per chunk.
func ParallelFor(n, minChunk, workers int, fn func(start, end int)) {
	if minChunk < 1 {
		minChunk = 1
	}
	if n <= minChunk || workers <= 1 {
		fn(0, n)
		return
	}

	if n/minChunk < workers {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}
