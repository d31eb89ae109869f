package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// Outcome is the result of one executed attempt
type Outcome struct {
	// Result finalizes the task when Retry is false
	Result *domain.Result
	// Retry re-enqueues the task at the back of the queue after Delay
	Retry bool
	Delay time.Duration
	Error string
	// Classification of Error, kept when a pending retry is abandoned
	Classification *domain.ErrorClassification
}

// failure is the terminal result of a retry outcome that will not run again
func (o Outcome) failure() *domain.Result {
	return &domain.Result{Success: false, ErrorMessage: o.Error, Classification: o.Classification}
}

// pendingRetry is a parked task waiting for its retry delay
type pendingRetry struct {
	timer   *time.Timer
	outcome Outcome
}

// Executor runs one attempt of a task
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) Outcome
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, task *domain.Task) Outcome

// Execute calls f(ctx, task)
func (f ExecutorFunc) Execute(ctx context.Context, task *domain.Task) Outcome { return f(ctx, task) }

// Handle is the join handle of a submitted task
type Handle struct {
	taskID string
	done   chan struct{}
	task   domain.Task
}

// TaskID returns the ID of the task behind the handle
func (h *Handle) TaskID() string { return h.taskID }

// Done is closed once the task reached a terminal state
func (h *Handle) Done() <-chan struct{} { return h.done }

// Task returns the final task state; only meaningful after Done is closed
func (h *Handle) Task() domain.Task {
	<-h.done
	return h.task
}

// Wait blocks until the task is terminal or ctx ends
func (h *Handle) Wait(ctx context.Context) (*domain.Result, error) {
	select {
	case <-h.done:
		return h.task.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WorkerPoolConfig contains worker pool settings
type WorkerPoolConfig struct {
	PollTimeout time.Duration
	// OnTerminal is called once for every task that reached a terminal state
	OnTerminal func(task domain.Task)
	// OnRetry is called when a failed attempt is scheduled again
	OnRetry func(task domain.Task, delay time.Duration)
}

// WorkerPool runs a bounded number of workers that drain a TaskQueue
type WorkerPool struct {
	queue    *TaskQueue
	executor Executor
	config   WorkerPoolConfig
	logger   *zap.Logger

	// lifecycle is held by Configure and DrainAndShutdown
	lifecycle sync.Mutex
	pool      *ants.Pool
	workers   int
	stop      context.CancelFunc
	loops     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	abandon bool
	handles map[string]*Handle
	timers  map[string]pendingRetry

	inflight sync.WaitGroup
	active   atomic.Int32
}

// NewWorkerPool creates a pool; no worker runs until Configure is called
func NewWorkerPool(queue *TaskQueue, executor Executor, config WorkerPoolConfig, log *zap.Logger) *WorkerPool {
	if config.PollTimeout <= 0 {
		config.PollTimeout = 200 * time.Millisecond
	}
	return &WorkerPool{
		queue:    queue,
		executor: executor,
		config:   config,
		logger:   logger.OrNop(log),
		handles:  make(map[string]*Handle),
		timers:   make(map[string]pendingRetry),
	}
}

// Configure sets the number of workers.
// Resizing waits for running attempts to finish and keeps queued tasks in place.
func (p *WorkerPool) Configure(count int) error {
	if count < domain.MinParallelism || count > domain.MaxParallelism {
		return fmt.Errorf("%w: %d", domain.ErrInvalidParallelism, count)
	}

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.isClosed() {
		return domain.ErrPoolClosed
	}
	if p.pool != nil && count == p.workers {
		return nil
	}

	if p.pool != nil {
		p.logger.Info("Resizing worker pool", zap.Int("from", p.workers), zap.Int("to", count))
		p.stopWorkers()
	}

	pool, err := ants.NewPool(count, ants.WithOptions(ants.Options{
		PreAlloc: true,
		PanicHandler: func(r any) {
			p.logger.Error("Worker panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		},
	}))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < count; i++ {
		p.loops.Add(1)
		id := i
		if err := pool.Submit(func() {
			defer p.loops.Done()
			p.work(ctx, id)
		}); err != nil {
			p.loops.Done()
			cancel()
			p.loops.Wait()
			pool.Release()
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	p.pool = pool
	p.workers = count
	p.stop = cancel

	p.logger.Info("Worker pool configured", zap.Int("workers", count))
	return nil
}

// stopWorkers ends the current worker generation after running attempts finish
func (p *WorkerPool) stopWorkers() {
	if p.pool == nil {
		return
	}
	p.stop()
	p.loops.Wait()
	p.pool.Release()
	p.pool = nil
}

// Workers returns the configured worker count
func (p *WorkerPool) Workers() int {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.pool == nil {
		return 0
	}
	return p.workers
}

// ActiveCount returns the number of attempts running right now, including
// the handling of their outcome
func (p *WorkerPool) ActiveCount() int {
	return int(p.active.Load())
}

// Submit enqueues a task and returns its handle
func (p *WorkerPool) Submit(task *domain.Task) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}
	h := &Handle{taskID: task.ID, done: make(chan struct{})}
	p.handles[task.ID] = h
	p.inflight.Add(1)
	p.mu.Unlock()

	p.queue.Enqueue(task)
	return h, nil
}

// Cancel cancels a task that has not started; running tasks are not interrupted
func (p *WorkerPool) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	return p.CancelTask(h.taskID)
}

// CancelTask cancels a not yet started task by ID
func (p *WorkerPool) CancelTask(id string) bool {
	task, ok := p.queue.Cancel(id)
	if !ok {
		return false
	}
	p.resolve(task)
	return true
}

// DrainAndShutdown stops the pool.
// With wait it processes everything submitted and blocks until done.
// Without wait it cancels queued tasks and returns while running ones finish.
func (p *WorkerPool) DrainAndShutdown(wait bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.abandon = !wait
	p.mu.Unlock()

	if wait {
		p.inflight.Wait()
		p.lifecycle.Lock()
		p.stopWorkers()
		p.lifecycle.Unlock()
		p.logger.Info("Worker pool drained and stopped")
		return
	}

	for _, task := range p.queue.CancelPending() {
		p.resolve(task)
	}
	p.abandonRetries()

	go func() {
		p.lifecycle.Lock()
		defer p.lifecycle.Unlock()
		p.stopWorkers()
		p.logger.Info("Worker pool stopped")
	}()
}

// abandonRetries finalizes tasks that wait for a delayed retry
func (p *WorkerPool) abandonRetries() {
	p.mu.Lock()
	timers := p.timers
	p.timers = make(map[string]pendingRetry)
	p.mu.Unlock()

	for id, pending := range timers {
		pending.timer.Stop()
		result := pending.outcome.failure()
		if result.ErrorMessage == "" {
			result.ErrorMessage = "retry abandoned at shutdown"
		}
		p.finalize(id, result)
	}
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// work is the loop of one worker
func (p *WorkerPool) work(ctx context.Context, id int) {
	p.logger.Debug("Worker started", zap.Int("worker", id))
	defer p.logger.Debug("Worker stopped", zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := p.queue.Dequeue(ctx, p.config.PollTimeout)
		if !ok {
			continue
		}
		p.run(task)
	}
}

// run executes one attempt and applies its outcome
func (p *WorkerPool) run(task *domain.Task) {
	p.active.Add(1)
	defer p.active.Add(-1)
	outcome := p.execute(task)

	if outcome.Retry {
		p.scheduleRetry(task, outcome)
		return
	}

	result := outcome.Result
	if result == nil {
		result = &domain.Result{Success: false, ErrorMessage: outcome.Error}
	}
	p.finalize(task.ID, result)
}

func (p *WorkerPool) finalize(id string, result *domain.Result) {
	final, err := p.queue.MarkTerminal(id, result)
	if err != nil {
		p.logger.Error("Failed to finalize task", zap.String("id", id), zap.Error(err))
		return
	}
	p.resolve(final)
}

// execute calls the executor and turns a panic into a failed attempt
func (p *WorkerPool) execute(task *domain.Task) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task execution panicked",
				zap.String("id", task.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			outcome = Outcome{Result: &domain.Result{
				Success:      false,
				ErrorMessage: fmt.Sprintf("task panicked: %v", r),
			}}
		}
	}()
	return p.executor.Execute(context.Background(), task)
}

// scheduleRetry parks a failed task and queues it again after the outcome delay
func (p *WorkerPool) scheduleRetry(task *domain.Task, outcome Outcome) {
	if err := p.queue.MarkRetrying(task.ID, outcome.Error); err != nil {
		p.logger.Error("Failed to mark task for retry", zap.String("id", task.ID), zap.Error(err))
		p.finalize(task.ID, outcome.failure())
		return
	}

	if p.config.OnRetry != nil {
		if current, ok := p.queue.Get(task.ID); ok {
			p.config.OnRetry(current, outcome.Delay)
		}
	}

	p.mu.Lock()
	if p.abandon {
		p.mu.Unlock()
		p.finalize(task.ID, outcome.failure())
		return
	}
	timer := time.AfterFunc(outcome.Delay, func() {
		p.mu.Lock()
		_, owned := p.timers[task.ID]
		delete(p.timers, task.ID)
		p.mu.Unlock()
		if !owned {
			return
		}
		if err := p.queue.Requeue(task.ID); err != nil {
			p.logger.Error("Failed to requeue task", zap.String("id", task.ID), zap.Error(err))
			p.finalize(task.ID, outcome.failure())
		}
	})
	p.timers[task.ID] = pendingRetry{timer: timer, outcome: outcome}
	p.mu.Unlock()
}

// resolve completes the handle of a terminal task
func (p *WorkerPool) resolve(task domain.Task) {
	p.mu.Lock()
	h, ok := p.handles[task.ID]
	delete(p.handles, task.ID)
	p.mu.Unlock()

	if p.config.OnTerminal != nil {
		p.config.OnTerminal(task)
	}
	if !ok {
		return
	}
	h.task = task
	close(h.done)
	p.inflight.Done()
}
