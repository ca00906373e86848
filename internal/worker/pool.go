package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool manages a fixed number of worker goroutines that run handle for
// every submitted job.
type Pool[T any] struct {
	numWorkers int
	jobs       chan T
	handle     func(context.Context, T)
	logger     *slog.Logger
	wg         sync.WaitGroup
	stopOnce   sync.Once

	mu        sync.Mutex
	unhandled []T
}

// NewPool creates a worker pool with the given number of workers.
func NewPool[T any](numWorkers int, handle func(context.Context, T), logger *slog.Logger) *Pool[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool[T]{
		numWorkers: numWorkers,
		jobs:       make(chan T, numWorkers*2),
		handle:     handle,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool[T]) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a job to the pool, blocking while every worker is busy and
// the buffer is full. It reports false if ctx ends first.
func (p *Pool[T]) Submit(ctx context.Context, job T) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the jobs channel and waits for all workers to finish. No
// Submit may happen after Stop.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Remaining drains jobs that were submitted but never started. Only valid
// after Stop.
func (p *Pool[T]) Remaining() []T {
	p.mu.Lock()
	left := p.unhandled
	p.unhandled = nil
	p.mu.Unlock()
	for job := range p.jobs {
		left = append(left, job)
	}
	return left
}

// worker is a single goroutine that processes jobs from the channel.
func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		if ctx.Err() != nil {
			p.mu.Lock()
			p.unhandled = append(p.unhandled, job)
			p.mu.Unlock()
			return
		}
		p.handle(ctx, job)
	}
}
