package tts

import (
	"errors"
	"log/slog"
	"sync"
)

const (
	// DefaultWorkers bounds concurrent provider calls across all runs.
	DefaultWorkers = 4

	// defaultQueueDepth keeps Submit from blocking the streaming loop under
	// normal load; a full queue only happens when the provider stalls.
	defaultQueueDepth = 1024
)

// ErrPoolStopped is returned by Submit after Stop has been called.
var ErrPoolStopped = errors.New("tts worker pool stopped")

// ErrQueueFull is returned by Submit when the task queue is saturated.
// Callers hold locks the workers need, so Submit must never wait for queue
// space.
var ErrQueueFull = errors.New("tts task queue full")

// Pool is a shared, bounded worker pool for segment synthesis. All
// orchestrators submit to the same pool so total provider concurrency stays
// capped per process.
type Pool struct {
	workers  int
	tasks    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewPool creates a pool with the given number of workers. Values below one
// fall back to DefaultWorkers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan func(), defaultQueueDepth),
		stopCh:  make(chan struct{}),
	}
}

// Start spawns the worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *Pool) Start() {
	if p.started {
		slog.Warn("TTS pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting TTS worker pool", "worker_count", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit queues a synthesis task without blocking. It returns ErrPoolStopped
// once the pool is shutting down and ErrQueueFull when the queue is
// saturated; queued tasks that have not started by Stop are dropped.
func (p *Pool) Submit(task func()) error {
	select {
	case <-p.stopCh:
		return ErrPoolStopped
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolStopped
	default:
		return ErrQueueFull
	}
}

// Stop signals the workers to stop and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("TTS worker pool stopped")
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case task := <-p.tasks:
			task()
		}
	}
}
