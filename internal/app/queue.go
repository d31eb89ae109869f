package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// TaskQueue is the shared FIFO of tasks and the index of every known task.
// All task state changes go through the queue so readers get consistent copies.
type TaskQueue struct {
	mu      sync.Mutex
	pending []*domain.Task
	tasks   map[string]*domain.Task
	signal  chan struct{}
	logger  *zap.Logger
}

// NewTaskQueue creates an empty queue
func NewTaskQueue(log *zap.Logger) *TaskQueue {
	return &TaskQueue{
		tasks:  make(map[string]*domain.Task),
		signal: make(chan struct{}, 1),
		logger: logger.OrNop(log),
	}
}

// Enqueue adds a new task at the back of the queue
func (q *TaskQueue) Enqueue(task *domain.Task) {
	q.mu.Lock()
	task.MarkQueued()
	q.tasks[task.ID] = task
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.notify()
}

// Requeue puts a task waiting for retry back at the end of the queue
func (q *TaskQueue) Requeue(id string) error {
	q.mu.Lock()
	task, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if task.Status != domain.StatusFailed || task.Result != nil {
		q.mu.Unlock()
		return fmt.Errorf("task %s is not waiting for retry: %s", id, task.Status)
	}
	task.MarkQueued()
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.notify()
	return nil
}

// Dequeue takes the oldest queued task and marks it running.
// It blocks up to timeout and returns false when nothing arrived.
func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, bool) {
	if task, ok := q.pop(); ok {
		return task, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.signal:
			if task, ok := q.pop(); ok {
				return task, true
			}
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *TaskQueue) pop() (*domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		if task.Status != domain.StatusQueued {
			continue
		}
		task.MarkRunning()
		if len(q.pending) > 0 {
			q.notify()
		}
		c := task.Clone()
		return &c, true
	}
	return nil, false
}

func (q *TaskQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// MarkRetrying records a failed attempt that will be queued again later
func (q *TaskQueue) MarkRetrying(id, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	task.MarkRetrying(errMsg)
	return nil
}

// MarkTerminal finalizes a task and returns a copy of its final state
func (q *TaskQueue) MarkTerminal(id string, result *domain.Result) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if task.IsTerminal() {
		return task.Clone(), fmt.Errorf("task %s already in terminal state: %s", id, task.Status)
	}
	task.MarkTerminal(result)
	return task.Clone(), nil
}

// Cancel cancels a task that has not started yet
func (q *TaskQueue) Cancel(id string) (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok || !task.IsCancellable() {
		return domain.Task{}, false
	}
	q.removePending(id)
	task.MarkCancelled()

	q.logger.Debug("Task cancelled", zap.String("id", id))
	return task.Clone(), true
}

// CancelPending cancels every task that has not started yet
func (q *TaskQueue) CancelPending() []domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var cancelled []domain.Task
	for _, task := range q.pending {
		if task.IsCancellable() {
			task.MarkCancelled()
			cancelled = append(cancelled, task.Clone())
		}
	}
	q.pending = nil
	return cancelled
}

func (q *TaskQueue) removePending(id string) {
	for i, task := range q.pending {
		if task.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Get returns a copy of a task
func (q *TaskQueue) Get(id string) (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return task.Clone(), true
}

// Snapshot returns copies of all known tasks ordered by creation
func (q *TaskQueue) Snapshot() []domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, task.Clone())
	}
	sortTasks(out)
	return out
}

// Len returns the number of tasks waiting to be dequeued
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Counts returns the number of known tasks per status
func (q *TaskQueue) Counts() map[domain.TaskStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, task := range q.tasks {
		counts[task.Status]++
	}
	return counts
}

// PurgeTerminal drops finished tasks from the index and returns how many were removed
func (q *TaskQueue) PurgeTerminal() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, task := range q.tasks {
		if task.IsTerminal() {
			delete(q.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug("Purged terminal tasks", zap.Int("count", removed))
	}
	return removed
}

func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Index < b.Index
	})
}
