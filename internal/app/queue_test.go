package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fetchq-go/internal/domain"
)

func newTestTask(source string) *domain.Task {
	return domain.NewTask(domain.Request{Source: source}, domain.RequestConfig{RetryAttempts: 2})
}

func TestTaskQueue_FIFO(t *testing.T) {
	q := NewTaskQueue(nil)
	sources := []string{"a", "b", "c", "d"}
	for _, s := range sources {
		q.Enqueue(newTestTask(s))
	}
	assert.Equal(t, 4, q.Len())

	for _, want := range sources {
		task, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, want, task.Source)
		assert.Equal(t, domain.StatusRunning, task.Status)
		assert.Equal(t, 1, task.AttemptCount)
	}
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueue_DequeueTimeout(t *testing.T) {
	q := NewTaskQueue(nil)

	start := time.Now()
	task, ok := q.Dequeue(context.Background(), 30*time.Millisecond)
	assert.False(t, ok)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTaskQueue_DequeueContextCancelled(t *testing.T) {
	q := NewTaskQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Dequeue(ctx, time.Second)
	assert.False(t, ok)
}

func TestTaskQueue_DequeueWakesOnEnqueue(t *testing.T) {
	q := NewTaskQueue(nil)
	got := make(chan string, 1)
	go func() {
		task, ok := q.Dequeue(context.Background(), time.Second)
		if ok {
			got <- task.Source
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(newTestTask("late"))

	select {
	case s := <-got:
		assert.Equal(t, "late", s)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestTaskQueue_RequeueGoesToBack(t *testing.T) {
	q := NewTaskQueue(nil)
	first := newTestTask("first")
	q.Enqueue(first)
	q.Enqueue(newTestTask("second"))

	task, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, "first", task.Source)

	require.NoError(t, q.MarkRetrying(task.ID, "connection reset"))
	got, _ := q.Get(task.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.False(t, got.IsTerminal())

	require.NoError(t, q.Requeue(task.ID))

	next, _ := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.Equal(t, "second", next.Source)
	retried, _ := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.Equal(t, "first", retried.Source)
	assert.Equal(t, 2, retried.AttemptCount)
}

func TestTaskQueue_RequeueRejectsNonRetrying(t *testing.T) {
	q := NewTaskQueue(nil)
	task := newTestTask("a")
	q.Enqueue(task)

	assert.Error(t, q.Requeue(task.ID))
	assert.ErrorIs(t, q.Requeue("missing"), domain.ErrTaskNotFound)
}

func TestTaskQueue_MarkTerminal(t *testing.T) {
	q := NewTaskQueue(nil)
	task := newTestTask("a")
	q.Enqueue(task)
	running, _ := q.Dequeue(context.Background(), 10*time.Millisecond)

	final, err := q.MarkTerminal(running.ID, &domain.Result{Success: true, LocalPath: "/tmp/a"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, 1, final.Result.Attempts)

	_, err = q.MarkTerminal(running.ID, &domain.Result{Success: true})
	assert.Error(t, err)

	_, err = q.MarkTerminal("missing", nil)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTaskQueue_Cancel(t *testing.T) {
	q := NewTaskQueue(nil)
	a, b := newTestTask("a"), newTestTask("b")
	q.Enqueue(a)
	q.Enqueue(b)

	cancelled, ok := q.Cancel(a.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, 1, q.Len())

	running, _ := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.Equal(t, "b", running.Source)

	_, ok = q.Cancel(b.ID)
	assert.False(t, ok, "running task must not be cancellable")
	_, ok = q.Cancel(a.ID)
	assert.False(t, ok)
}

func TestTaskQueue_CancelPending(t *testing.T) {
	q := NewTaskQueue(nil)
	for _, s := range []string{"a", "b", "c"} {
		q.Enqueue(newTestTask(s))
	}
	_, _ = q.Dequeue(context.Background(), 10*time.Millisecond)

	cancelled := q.CancelPending()
	assert.Len(t, cancelled, 2)
	assert.Equal(t, 0, q.Len())

	counts := q.Counts()
	assert.Equal(t, 2, counts[domain.StatusCancelled])
	assert.Equal(t, 1, counts[domain.StatusRunning])
}

func TestTaskQueue_PurgeTerminal(t *testing.T) {
	q := NewTaskQueue(nil)
	a, b := newTestTask("a"), newTestTask("b")
	q.Enqueue(a)
	q.Enqueue(b)
	running, _ := q.Dequeue(context.Background(), 10*time.Millisecond)
	_, err := q.MarkTerminal(running.ID, &domain.Result{Success: false, ErrorMessage: "boom"})
	require.NoError(t, err)

	assert.Equal(t, 1, q.PurgeTerminal())
	snapshot := q.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, b.ID, snapshot[0].ID)
}

func TestTaskQueue_SnapshotIsCopy(t *testing.T) {
	q := NewTaskQueue(nil)
	q.Enqueue(newTestTask("a"))

	snapshot := q.Snapshot()
	snapshot[0].Status = domain.StatusCompleted

	got, _ := q.Get(snapshot[0].ID)
	assert.Equal(t, domain.StatusQueued, got.Status)
}

func TestTaskQueue_ConcurrentDequeue(t *testing.T) {
	q := NewTaskQueue(nil)
	const n = 100
	for i := 0; i < n; i++ {
		q.Enqueue(newTestTask("src"))
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.Dequeue(context.Background(), 20*time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				assert.False(t, seen[task.ID], "task dequeued twice")
				seen[task.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
