package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fetchq-go/internal/domain"
)

func newTestPool(t *testing.T, exec Executor, workers int) (*WorkerPool, *TaskQueue) {
	t.Helper()
	q := NewTaskQueue(nil)
	p := NewWorkerPool(q, exec, WorkerPoolConfig{PollTimeout: 10 * time.Millisecond}, nil)
	require.NoError(t, p.Configure(workers))
	t.Cleanup(func() { p.DrainAndShutdown(false) })
	return p, q
}

func succeed(ctx context.Context, task *domain.Task) Outcome {
	return Outcome{Result: &domain.Result{Success: true}}
}

func waitAll(t *testing.T, handles []*Handle) []domain.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make([]domain.Task, len(handles))
	for i, h := range handles {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
		out[i] = h.Task()
	}
	return out
}

func TestWorkerPool_Configure(t *testing.T) {
	p := NewWorkerPool(NewTaskQueue(nil), ExecutorFunc(succeed), WorkerPoolConfig{}, nil)
	defer p.DrainAndShutdown(false)

	assert.ErrorIs(t, p.Configure(0), domain.ErrInvalidParallelism)
	assert.ErrorIs(t, p.Configure(11), domain.ErrInvalidParallelism)
	assert.Equal(t, 0, p.Workers())

	require.NoError(t, p.Configure(3))
	assert.Equal(t, 3, p.Workers())
	require.NoError(t, p.Configure(3))
	require.NoError(t, p.Configure(5))
	assert.Equal(t, 5, p.Workers())
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	var terminal atomic.Int32
	q := NewTaskQueue(nil)
	p := NewWorkerPool(q, ExecutorFunc(succeed), WorkerPoolConfig{
		PollTimeout: 10 * time.Millisecond,
		OnTerminal:  func(domain.Task) { terminal.Add(1) },
	}, nil)
	require.NoError(t, p.Configure(2))
	defer p.DrainAndShutdown(false)

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := p.Submit(newTestTask("src"))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	for _, task := range waitAll(t, handles) {
		assert.Equal(t, domain.StatusCompleted, task.Status)
		assert.Equal(t, 1, task.AttemptCount)
	}
	assert.Equal(t, int32(5), terminal.Load())
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		var running, peak atomic.Int32
		exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
			cur := running.Add(1)
			for {
				prev := peak.Load()
				if cur <= prev || peak.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return Outcome{Result: &domain.Result{Success: true}}
		})

		p, _ := newTestPool(t, exec, n)
		var handles []*Handle
		for i := 0; i < 3*n; i++ {
			h, err := p.Submit(newTestTask("src"))
			require.NoError(t, err)
			handles = append(handles, h)
		}
		waitAll(t, handles)
		assert.LessOrEqual(t, peak.Load(), int32(n))
	}
}

func TestWorkerPool_RetryGoesToBack(t *testing.T) {
	var mu sync.Mutex
	var order []string
	failedOnce := false
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, task.Source)
		if task.Source == "a" && !failedOnce {
			failedOnce = true
			return Outcome{Retry: true, Delay: 20 * time.Millisecond, Error: "connection reset"}
		}
		return Outcome{Result: &domain.Result{Success: true}}
	})

	q := NewTaskQueue(nil)
	p := NewWorkerPool(q, exec, WorkerPoolConfig{PollTimeout: 5 * time.Millisecond}, nil)
	defer p.DrainAndShutdown(false)

	a, b := newTestTask("a"), newTestTask("b")
	ha, _ := p.Submit(a)
	hb, _ := p.Submit(b)
	require.NoError(t, p.Configure(1))

	tasks := waitAll(t, []*Handle{ha, hb})
	assert.Equal(t, []string{"a", "b", "a"}, order)
	assert.Equal(t, domain.StatusCompleted, tasks[0].Status)
	assert.Equal(t, 2, tasks[0].AttemptCount)
	assert.Equal(t, "connection reset", tasks[0].LastError)
}

func TestWorkerPool_StatusFailedWhileWaitingForRetry(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		if calls.Add(1) == 1 {
			return Outcome{Retry: true, Delay: 100 * time.Millisecond, Error: "timeout"}
		}
		return Outcome{Result: &domain.Result{Success: true}}
	})
	var retried atomic.Int32
	q := NewTaskQueue(nil)
	p := NewWorkerPool(q, exec, WorkerPoolConfig{
		PollTimeout: 5 * time.Millisecond,
		OnRetry:     func(domain.Task, time.Duration) { retried.Add(1) },
	}, nil)
	require.NoError(t, p.Configure(1))
	defer p.DrainAndShutdown(false)

	h, _ := p.Submit(newTestTask("a"))

	require.Eventually(t, func() bool { return retried.Load() == 1 }, time.Second, 5*time.Millisecond)
	task, _ := q.Get(h.TaskID())
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Nil(t, task.Result)

	final := waitAll(t, []*Handle{h})[0]
	assert.Equal(t, domain.StatusCompleted, final.Status)
}

func TestWorkerPool_Cancel(t *testing.T) {
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		<-release
		return Outcome{Result: &domain.Result{Success: true}}
	})
	p, _ := newTestPool(t, exec, 1)

	first, _ := p.Submit(newTestTask("first"))
	second, _ := p.Submit(newTestTask("second"))

	require.Eventually(t, func() bool { return p.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, p.Cancel(first), "running task cannot be cancelled")
	assert.True(t, p.Cancel(second))
	assert.False(t, p.Cancel(second))
	assert.False(t, p.Cancel(nil))

	close(release)
	tasks := waitAll(t, []*Handle{first, second})
	assert.Equal(t, domain.StatusCompleted, tasks[0].Status)
	assert.Equal(t, domain.StatusCancelled, tasks[1].Status)
	assert.Equal(t, 0, tasks[1].AttemptCount)
}

func TestWorkerPool_ResizePreservesQueue(t *testing.T) {
	var count atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		time.Sleep(5 * time.Millisecond)
		count.Add(1)
		return Outcome{Result: &domain.Result{Success: true}}
	})
	p, _ := newTestPool(t, exec, 1)

	var handles []*Handle
	for i := 0; i < 10; i++ {
		h, _ := p.Submit(newTestTask("src"))
		handles = append(handles, h)
	}
	require.NoError(t, p.Configure(4))
	waitAll(t, handles)
	assert.Equal(t, int32(10), count.Load())
}

func TestWorkerPool_PanicBecomesFailure(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		panic("boom")
	})
	p, _ := newTestPool(t, exec, 1)

	h, _ := p.Submit(newTestTask("src"))
	task := waitAll(t, []*Handle{h})[0]
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Result.ErrorMessage, "boom")

	// the worker survives the panic
	h2, _ := p.Submit(newTestTask("src"))
	assert.Equal(t, domain.StatusFailed, waitAll(t, []*Handle{h2})[0].Status)
}

func TestWorkerPool_DrainAndShutdownWait(t *testing.T) {
	var count atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		time.Sleep(5 * time.Millisecond)
		if count.Add(1) == 1 {
			return Outcome{Retry: true, Delay: 10 * time.Millisecond, Error: "timeout"}
		}
		return Outcome{Result: &domain.Result{Success: true}}
	})
	p := NewWorkerPool(NewTaskQueue(nil), exec, WorkerPoolConfig{PollTimeout: 5 * time.Millisecond}, nil)
	require.NoError(t, p.Configure(2))

	var handles []*Handle
	for i := 0; i < 6; i++ {
		h, _ := p.Submit(newTestTask("src"))
		handles = append(handles, h)
	}

	p.DrainAndShutdown(true)
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Fatal("drain returned before all tasks finished")
		}
	}
	assert.Equal(t, int32(7), count.Load())
	assert.Equal(t, 0, p.Workers())

	_, err := p.Submit(newTestTask("late"))
	assert.ErrorIs(t, err, domain.ErrPoolClosed)
	assert.ErrorIs(t, p.Configure(2), domain.ErrPoolClosed)
}

func TestWorkerPool_ShutdownNoWaitCancelsPending(t *testing.T) {
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		<-release
		return Outcome{Result: &domain.Result{Success: true}}
	})
	p := NewWorkerPool(NewTaskQueue(nil), exec, WorkerPoolConfig{PollTimeout: 5 * time.Millisecond}, nil)
	require.NoError(t, p.Configure(1))

	running, _ := p.Submit(newTestTask("running"))
	require.Eventually(t, func() bool { return p.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)
	queued, _ := p.Submit(newTestTask("queued"))

	start := time.Now()
	p.DrainAndShutdown(false)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "must not block")

	assert.Equal(t, domain.StatusCancelled, waitAll(t, []*Handle{queued})[0].Status)
	select {
	case <-running.Done():
		t.Fatal("running task must keep going")
	default:
	}

	close(release)
	assert.Equal(t, domain.StatusCompleted, waitAll(t, []*Handle{running})[0].Status)
}

func TestWorkerPool_ShutdownNoWaitAbandonsRetries(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task *domain.Task) Outcome {
		return Outcome{
			Retry:          true,
			Delay:          time.Hour,
			Error:          "connection reset",
			Classification: &domain.ErrorClassification{Category: domain.CategoryNetwork, Retryable: true},
		}
	})
	p := NewWorkerPool(NewTaskQueue(nil), exec, WorkerPoolConfig{
		PollTimeout: 5 * time.Millisecond,
	}, nil)
	require.NoError(t, p.Configure(1))

	h, _ := p.Submit(newTestTask("src"))
	require.Eventually(t, func() bool {
		task, ok := p.queue.Get(h.TaskID())
		return ok && task.Status == domain.StatusFailed
	}, time.Second, 5*time.Millisecond)

	p.DrainAndShutdown(false)
	task := waitAll(t, []*Handle{h})[0]
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, "connection reset", task.Result.ErrorMessage)
	require.NotNil(t, task.Result.Classification)
	assert.Equal(t, domain.CategoryNetwork, task.Result.Classification.Category)
}
