package domain

import (
	"context"
	"time"
)

// FormatSpec describes the quality/format string requested from a fetcher
type FormatSpec struct {
	Quality string `json:"quality"`
	Format  string `json:"format"`
}

// ProgressFunc receives byte-level progress from a fetcher.
// total may be zero when the size is unknown.
type ProgressFunc func(downloaded, total int64, rate float64, eta time.Duration)

// FetchRequest is one fetch attempt handed to a Fetcher
type FetchRequest struct {
	Source          string
	Format          FormatSpec
	OutputDirectory string
	// ResumeOffset is non-zero when a valid checkpoint allows continuing
	ResumeOffset int64
	// PartialPath is the in-progress artifact to continue from, if any
	PartialPath string
	OnProgress  ProgressFunc
	// OnPartial reports the location of the in-progress artifact
	OnPartial func(partialPath string)
}

// Metadata describes fetched media
type Metadata struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Duration time.Duration `json:"duration"`
}

// FetchResult is a successful fetch
type FetchResult struct {
	LocalPath string
	Metadata  Metadata
}

// Fetcher retrieves media for a source identifier
type Fetcher interface {
	// Fetch performs a single blocking attempt
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// Segmenter splits a downloaded file at cut points
type Segmenter interface {
	Segment(ctx context.Context, path string, cuts []CutPoint) ([]string, error)
}

// ProgressSink receives throttled aggregate progress
type ProgressSink interface {
	OnProgress(snapshot AggregateSnapshot)
}

// ProgressSinkFunc adapts a function to ProgressSink
type ProgressSinkFunc func(snapshot AggregateSnapshot)

// OnProgress calls f(snapshot)
func (f ProgressSinkFunc) OnProgress(snapshot AggregateSnapshot) { f(snapshot) }

// TaskEventType names a task lifecycle transition
type TaskEventType string

const (
	EventQueued    TaskEventType = "queued"
	EventStarted   TaskEventType = "started"
	EventRetrying  TaskEventType = "retrying"
	EventCompleted TaskEventType = "completed"
	EventFailed    TaskEventType = "failed"
	EventCancelled TaskEventType = "cancelled"
)

// TaskEvent is published on every task lifecycle transition
type TaskEvent struct {
	Type      TaskEventType `json:"type"`
	TaskID    string        `json:"task_id"`
	BatchID   string        `json:"batch_id,omitempty"`
	Source    string        `json:"source"`
	Attempt   int           `json:"attempt"`
	Message   string        `json:"message,omitempty"`
	Category  ErrorCategory `json:"category,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventPublisher receives task lifecycle events.
// Implementations must not block the caller for long.
type EventPublisher interface {
	Publish(ctx context.Context, event TaskEvent) error
}
