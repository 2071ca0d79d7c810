package engine

import (
	"context"
	"runtime"
	"sync"
)

// Pool is the bounded execution pool shared by every crawl's workers.
// A fixed number of goroutines pull queued tasks; Submit blocks when
// the queue is full, providing backpressure.
type Pool struct {
	workQueue chan func()
	wg        sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
}

// PoolSize computes the shared pool's width: two cores are left to the
// runtime and the API server, bounded by engine.max_workers.
func PoolSize(maxWorkers int) int {
	size := runtime.NumCPU() - 2
	if size < 1 {
		size = 1
	}
	if maxWorkers > 0 && size > maxWorkers {
		size = maxWorkers
	}
	return size
}

// NewPool starts size workers pulling from a queue of queueSize.
func NewPool(ctx context.Context, size, queueSize int) *Pool {
	p := &Pool{
		workQueue: make(chan func(), queueSize),
		ctx:       ctx,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case work, ok := <-p.workQueue:
			if !ok {
				return
			}
			work()
		case <-p.ctx.Done():
			return
		}
	}
}

// Submit queues a task, blocking while the pool is saturated. Returns
// the context error once the pool's context ends.
func (p *Pool) Submit(work func()) error {
	select {
	case p.workQueue <- work:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Close stops accepting work and waits for workers to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.workQueue) })
	p.wg.Wait()
}
