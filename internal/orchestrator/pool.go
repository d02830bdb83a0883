package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/IgnatG/langextract-api/internal/common/logger"
)

// Pool runs queued task IDs on a fixed set of worker goroutines. Each
// running task gets its own cancel func so Cancel can stop in-flight
// work cooperatively.
type Pool struct {
	queue   chan string
	exec    func(ctx context.Context, taskID string)
	log     logger.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	started bool
}

// NewPool creates a pool with the given queue capacity. exec is the
// function each worker invokes per task ID.
func NewPool(queueSize int, exec func(ctx context.Context, taskID string), log logger.Logger) *Pool {
	return &Pool{
		queue:   make(chan string, queueSize),
		exec:    exec,
		log:     log,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches workers goroutines consuming the queue. ctx ending
// stops the workers after their current task.
func (p *Pool) Start(ctx context.Context, workers int) {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for taskID := range p.queue {
				p.run(ctx, taskID)
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, taskID string) {
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancels[taskID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.cancels, taskID)
		p.mu.Unlock()
		cancel()
	}()

	p.exec(runCtx, taskID)
}

// Enqueue hands a task ID to the workers. Fails fast when the queue is
// full rather than blocking submission.
func (p *Pool) Enqueue(taskID string) error {
	select {
	case p.queue <- taskID:
		return nil
	default:
		return fmt.Errorf("worker queue is full")
	}
}

// Cancel signals the worker running taskID, if any. Queued-but-not-
// started tasks need no signal; their claim will fail against the
// REVOKED state.
func (p *Pool) Cancel(taskID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}
