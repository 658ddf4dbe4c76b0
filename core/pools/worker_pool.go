package pools

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerPool runs a fixed number of workers that pull items off a shared
// Queue and process them one at a time. There is no work stealing: an item
// belongs to the worker that popped it until process returns.
type WorkerPool[T any] struct {
	numWorkers int
	queue      *Queue[T]
	process    func(T)
	wait       time.Duration

	// PanicHandler is called when process panics. The worker survives.
	PanicHandler func(recovered any)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// Statistics
	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		active    atomic.Int64
		panics    atomic.Uint64
	}
}

// NewWorkerPool creates a pool of numWorkers over queue. Each worker waits
// at most wait for an item before looping; wait <= 0 waits forever.
func NewWorkerPool[T any](numWorkers int, queue *Queue[T], wait time.Duration, process func(T)) *WorkerPool[T] {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool[T]{
		numWorkers: numWorkers,
		queue:      queue,
		process:    process,
		wait:       wait,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the workers. Calling it again is a no-op.
func (p *WorkerPool[T]) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit queues v for processing. It never blocks and returns false only
// when the queue is closed.
func (p *WorkerPool[T]) Submit(v T) bool {
	if !p.queue.Push(v) {
		return false
	}
	p.stats.submitted.Add(1)
	return true
}

func (p *WorkerPool[T]) run() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}
		v, err := p.queue.Pop(p.ctx, p.wait)
		if err != nil {
			if errors.Is(err, ErrQueueTimeout) {
				continue
			}
			return // closed and drained, or stopped
		}
		p.exec(v)
	}
}

func (p *WorkerPool[T]) exec(v T) {
	p.stats.active.Add(1)
	defer func() {
		p.stats.active.Add(-1)
		p.stats.completed.Add(1)
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			if p.PanicHandler != nil {
				p.PanicHandler(r)
			}
		}
	}()
	p.process(v)
}

// Close closes the queue. Workers finish everything already queued and exit.
func (p *WorkerPool[T]) Close() {
	p.queue.Close()
}

// Stop makes workers exit without draining the queue. Items being
// processed run to completion; nothing further is popped.
func (p *WorkerPool[T]) Stop() {
	p.cancel()
}

// Wait blocks until every worker has exited or ctx is done.
func (p *WorkerPool[T]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// Stats returns pool statistics
func (p *WorkerPool[T]) Stats() WorkerPoolStats {
	submitted := p.stats.submitted.Load()
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksCompleted: p.stats.completed.Load(),
		TasksActive:    p.stats.active.Load(),
		TasksPending:   p.queue.Len(),
		Panics:         p.stats.panics.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksActive    int64  `json:"tasks_active"`
	TasksPending   int    `json:"tasks_pending"`
	Panics         uint64 `json:"panics"`
}
