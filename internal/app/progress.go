package app

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// ProgressAggregator keeps running totals over all tasks and emits throttled snapshots to sinks
type ProgressAggregator struct {
	mu        sync.Mutex
	active    map[string]*domain.ProgressSnapshot
	totals    domain.AggregateSnapshot
	startedAt time.Time
	lastEmit  time.Time
	interval  time.Duration
	now       func() time.Time

	sinkMu sync.Mutex
	sinks  []domain.ProgressSink

	logger *zap.Logger
}

// NewProgressAggregator creates an aggregator emitting at most once per interval
func NewProgressAggregator(interval time.Duration, log *zap.Logger) *ProgressAggregator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProgressAggregator{
		active:   make(map[string]*domain.ProgressSnapshot),
		interval: interval,
		now:      time.Now,
		logger:   logger.OrNop(log),
	}
}

// AddSink registers a sink for throttled snapshots
func (p *ProgressAggregator) AddSink(sink domain.ProgressSink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sinks = append(p.sinks, sink)
}

// Start begins tracking a task. Starting a tracked task again only refreshes its label and total.
func (p *ProgressAggregator) Start(taskID, label string, total int64) {
	p.mu.Lock()
	now := p.now()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	snap, ok := p.active[taskID]
	if !ok {
		snap = &domain.ProgressSnapshot{TaskID: taskID, StartedAt: now}
		p.active[taskID] = snap
		p.totals.TotalFiles++
		p.totals.ActiveCount++
	}
	snap.Label = label
	snap.Status = domain.StatusRunning
	if total > 0 {
		p.totals.TotalBytes += total - snap.TotalBytes
		snap.TotalBytes = total
	}
	agg, emit := p.snapshotLocked(false)
	p.mu.Unlock()

	if emit {
		p.emit(agg)
	}
}

// Update records the latest byte counts of a task in O(1)
func (p *ProgressAggregator) Update(taskID string, downloaded, total int64, rate float64, eta time.Duration) {
	p.mu.Lock()
	snap, ok := p.active[taskID]
	if !ok {
		p.mu.Unlock()
		return
	}

	p.totals.DownloadedBytes += downloaded - snap.DownloadedBytes
	p.totals.Rate += rate - snap.Rate
	snap.DownloadedBytes = downloaded
	snap.Rate = rate
	snap.ETA = eta
	snap.Status = domain.StatusRunning
	if total > 0 && total != snap.TotalBytes {
		p.totals.TotalBytes += total - snap.TotalBytes
		snap.TotalBytes = total
	}
	agg, emit := p.snapshotLocked(false)
	p.mu.Unlock()

	if emit {
		p.emit(agg)
	}
}

// Stall marks a task as waiting for a retry; its bytes stay counted but its rate drops out
func (p *ProgressAggregator) Stall(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, ok := p.active[taskID]
	if !ok {
		return
	}
	p.totals.Rate -= snap.Rate
	snap.Rate = 0
	snap.ETA = 0
	snap.Status = domain.StatusFailed
}

// Complete stops tracking a task and always emits a snapshot.
// finalBytes, when positive, replaces the last reported byte count.
func (p *ProgressAggregator) Complete(taskID string, success bool, finalBytes int64) {
	p.mu.Lock()
	snap, ok := p.active[taskID]
	if !ok {
		p.mu.Unlock()
		return
	}

	if finalBytes > 0 {
		p.totals.DownloadedBytes += finalBytes - snap.DownloadedBytes
		if finalBytes > snap.TotalBytes {
			p.totals.TotalBytes += finalBytes - snap.TotalBytes
		}
	}
	p.totals.Rate -= snap.Rate
	p.totals.ActiveCount--
	if success {
		p.totals.CompletedFiles++
	} else {
		p.totals.FailedFiles++
	}
	delete(p.active, taskID)

	agg, _ := p.snapshotLocked(true)
	p.mu.Unlock()

	p.emit(agg)
}

// Summary returns the current aggregate, independent of throttling
func (p *ProgressAggregator) Summary() domain.AggregateSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buildLocked()
}

// snapshotLocked builds a snapshot when an emission is due
func (p *ProgressAggregator) snapshotLocked(force bool) (domain.AggregateSnapshot, bool) {
	now := p.now()
	if !force && now.Sub(p.lastEmit) < p.interval {
		return domain.AggregateSnapshot{}, false
	}
	p.lastEmit = now
	return p.buildLocked(), true
}

func (p *ProgressAggregator) buildLocked() domain.AggregateSnapshot {
	agg := p.totals
	if agg.Rate < 0 {
		agg.Rate = 0
	}
	if agg.TotalBytes > 0 {
		agg.OverallPercent = float64(agg.DownloadedBytes) / float64(agg.TotalBytes) * 100
	}
	if remaining := agg.TotalBytes - agg.DownloadedBytes; agg.Rate > 0 && remaining > 0 {
		agg.ETA = time.Duration(float64(remaining) / agg.Rate * float64(time.Second))
	}
	if !p.startedAt.IsZero() {
		agg.Elapsed = p.now().Sub(p.startedAt)
	}

	agg.Active = make([]domain.ProgressSnapshot, 0, len(p.active))
	for _, snap := range p.active {
		agg.Active = append(agg.Active, *snap)
	}
	sort.Slice(agg.Active, func(i, j int) bool {
		a, b := agg.Active[i], agg.Active[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.TaskID < b.TaskID
	})
	return agg
}

// emit delivers a snapshot to every sink, one delivery at a time
func (p *ProgressAggregator) emit(agg domain.AggregateSnapshot) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()

	for _, sink := range p.sinks {
		p.deliver(sink, agg)
	}
}

func (p *ProgressAggregator) deliver(sink domain.ProgressSink, agg domain.AggregateSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Progress sink panicked", zap.Any("panic", r))
		}
	}()
	sink.OnProgress(agg)
}
