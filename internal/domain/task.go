package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// CutPoint marks a segment boundary inside a downloaded file
type CutPoint struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end,omitempty"` // zero means end of file
	Label string        `json:"label,omitempty"`
}

// Request is a single retrieval request submitted by a caller
type Request struct {
	Source    string     `json:"source"`
	CutPoints []CutPoint `json:"cut_points,omitempty"`
}

// Result is the outcome of a task, populated only in terminal states
type Result struct {
	TaskID         string               `json:"task_id"`
	Source         string               `json:"source"`
	Success        bool                 `json:"success"`
	Status         TaskStatus           `json:"status"`
	LocalPath      string               `json:"local_path,omitempty"`
	Metadata       *Metadata            `json:"metadata,omitempty"`
	SegmentPaths   []string             `json:"segment_paths,omitempty"`
	ErrorMessage   string               `json:"error_message,omitempty"`
	Classification *ErrorClassification `json:"classification,omitempty"`
	Attempts       int                  `json:"attempts"`
	Resumed        bool                 `json:"resumed"`
	Duration       time.Duration        `json:"duration"`
}

// Task is one scheduled unit of retrieval work
type Task struct {
	ID           string        `json:"id"`
	BatchID      string        `json:"batch_id,omitempty"`
	Index        int           `json:"index"`
	Source       string        `json:"source"`
	CutPoints    []CutPoint    `json:"cut_points,omitempty"`
	Config       RequestConfig `json:"config"`
	Status       TaskStatus    `json:"status"`
	AttemptCount int           `json:"attempt_count"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Result       *Result       `json:"result,omitempty"`
}

// NewTask creates a pending task for a request
func NewTask(req Request, config RequestConfig) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Source:    req.Source,
		CutPoints: req.CutPoints,
		Config:    config.Normalize(),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// MarkQueued marks the task as waiting in the queue
func (t *Task) MarkQueued() {
	t.Status = StatusQueued
}

// MarkRunning marks the task as running and counts a new attempt
func (t *Task) MarkRunning() {
	t.Status = StatusRunning
	t.AttemptCount++
	if t.StartedAt == nil {
		now := time.Now()
		t.StartedAt = &now
	}
}

// MarkRetrying records a failed attempt that will be retried.
// The task stays failed until it is queued again.
func (t *Task) MarkRetrying(errMsg string) {
	t.Status = StatusFailed
	t.LastError = errMsg
}

// MarkTerminal finalizes the task with a result
func (t *Task) MarkTerminal(result *Result) {
	switch {
	case result == nil:
		t.Status = StatusFailed
	case result.Status != "":
		t.Status = result.Status
	case result.Success:
		t.Status = StatusCompleted
	default:
		t.Status = StatusFailed
	}
	if result != nil {
		result.TaskID = t.ID
		result.Source = t.Source
		result.Status = t.Status
		result.Attempts = t.AttemptCount
		if result.ErrorMessage != "" {
			t.LastError = result.ErrorMessage
		}
	}
	now := time.Now()
	t.CompletedAt = &now
	t.Result = result
}

// MarkCancelled finalizes a task that never started
func (t *Task) MarkCancelled() {
	t.MarkTerminal(&Result{
		Status:       StatusCancelled,
		ErrorMessage: "task cancelled before start",
	})
}

// CanRetry reports whether another attempt fits in the retry budget
func (t *Task) CanRetry() bool {
	return t.AttemptCount < t.Config.RetryAttempts+1
}

// IsTerminal checks if the task is in a terminal state.
// A failed task with no result is waiting for a retry.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return t.Result != nil
	}
	return false
}

// IsCancellable checks if the task has not been started yet
func (t *Task) IsCancellable() bool {
	return t.Status == StatusPending || t.Status == StatusQueued
}

// Clone returns a copy that is safe to hand out of a lock
func (t *Task) Clone() Task {
	c := *t
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := *t.CompletedAt
		c.CompletedAt = &s
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}
