package app

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fetchq-go/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type collectingSink struct {
	mu        sync.Mutex
	snapshots []domain.AggregateSnapshot
}

func (s *collectingSink) OnProgress(snapshot domain.AggregateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
}

func (s *collectingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *collectingSink) Last() domain.AggregateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[len(s.snapshots)-1]
}

func newTestAggregator() (*ProgressAggregator, *fakeClock, *collectingSink) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	agg := NewProgressAggregator(500*time.Millisecond, nil)
	agg.now = clock.Now
	sink := &collectingSink{}
	agg.AddSink(sink)
	return agg, clock, sink
}

func TestProgressAggregator_Totals(t *testing.T) {
	agg, _, _ := newTestAggregator()

	agg.Start("a", "video a", 1000)
	agg.Start("b", "video b", 3000)
	agg.Update("a", 500, 1000, 100, 5*time.Second)
	agg.Update("b", 1000, 3000, 200, 10*time.Second)
	agg.Update("a", 800, 1000, 150, time.Second)

	s := agg.Summary()
	assert.Equal(t, int64(1800), s.DownloadedBytes)
	assert.Equal(t, int64(4000), s.TotalBytes)
	assert.Equal(t, 350.0, s.Rate)
	assert.Equal(t, 2, s.TotalFiles)
	assert.Equal(t, 2, s.ActiveCount)
	assert.InDelta(t, 45.0, s.OverallPercent, 0.001)
	remaining, rate := float64(2200), 350.0
	assert.Equal(t, time.Duration(remaining/rate*float64(time.Second)), s.ETA)
	require.Len(t, s.Active, 2)
	assert.Equal(t, "a", s.Active[0].TaskID)
}

func TestProgressAggregator_Complete(t *testing.T) {
	agg, _, sink := newTestAggregator()

	agg.Start("a", "a", 1000)
	agg.Start("b", "b", 1000)
	agg.Update("a", 900, 1000, 100, 0)
	before := sink.Count()

	agg.Complete("a", true, 1000)
	assert.Equal(t, before+1, sink.Count(), "complete always emits")

	agg.Complete("b", false, 0)
	s := agg.Summary()
	assert.Equal(t, 1, s.CompletedFiles)
	assert.Equal(t, 1, s.FailedFiles)
	assert.Equal(t, 0, s.ActiveCount)
	assert.Equal(t, int64(1000), s.DownloadedBytes)
	assert.Zero(t, s.Rate)
	assert.Empty(t, s.Active)

	// unknown tasks are ignored
	agg.Complete("missing", true, 10)
	agg.Update("missing", 10, 10, 1, 0)
	assert.Equal(t, 1, agg.Summary().CompletedFiles)
}

func TestProgressAggregator_Throttle(t *testing.T) {
	agg, clock, sink := newTestAggregator()

	agg.Start("a", "a", 100000)
	require.Equal(t, 1, sink.Count())

	for i := 1; i <= 100; i++ {
		agg.Update("a", int64(i*100), 100000, 10, 0)
		clock.Advance(time.Millisecond)
	}
	assert.Equal(t, 1, sink.Count(), "updates inside the interval are not emitted")
	assert.Equal(t, int64(10000), agg.Summary().DownloadedBytes, "counters stay current")

	clock.Advance(500 * time.Millisecond)
	agg.Update("a", 20000, 100000, 10, 0)
	assert.Equal(t, 2, sink.Count())
	assert.Equal(t, int64(20000), sink.Last().DownloadedBytes)
}

func TestProgressAggregator_RestartAfterStall(t *testing.T) {
	agg, _, _ := newTestAggregator()

	agg.Start("a", "a", 1000)
	agg.Update("a", 600, 1000, 50, 0)
	agg.Stall("a")
	s := agg.Summary()
	assert.Zero(t, s.Rate)
	require.Len(t, s.Active, 1)
	assert.Equal(t, domain.StatusFailed, s.Active[0].Status)

	// a retry starts over from zero
	agg.Start("a", "a", 1000)
	agg.Update("a", 100, 1000, 20, 0)
	s = agg.Summary()
	assert.Equal(t, 1, s.TotalFiles)
	assert.Equal(t, int64(100), s.DownloadedBytes)
	assert.Equal(t, 20.0, s.Rate)
}

func TestProgressAggregator_SinkPanicIsContained(t *testing.T) {
	agg, _, sink := newTestAggregator()
	agg.AddSink(domain.ProgressSinkFunc(func(domain.AggregateSnapshot) { panic("boom") }))

	assert.NotPanics(t, func() {
		agg.Start("a", "a", 10)
		agg.Complete("a", true, 10)
	})
	assert.Equal(t, 2, sink.Count())
}

func TestProgressAggregator_Concurrent(t *testing.T) {
	agg := NewProgressAggregator(time.Millisecond, nil)
	sink := &collectingSink{}
	agg.AddSink(sink)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			agg.Start(id, id, 1000)
			for i := 1; i <= 100; i++ {
				agg.Update(id, int64(i*10), 1000, 1, 0)
			}
			agg.Complete(id, true, 1000)
		}(string(rune('a' + w)))
	}
	wg.Wait()

	s := agg.Summary()
	assert.Equal(t, 10, s.CompletedFiles)
	assert.Equal(t, int64(10000), s.DownloadedBytes)
	assert.Equal(t, int64(10000), s.TotalBytes)
	assert.Equal(t, 0, s.ActiveCount)
	assert.GreaterOrEqual(t, sink.Count(), 10)
}
