package domain

import "time"

// TaskRecord is the persisted history entry of a finished task
type TaskRecord struct {
	ID           string        `json:"id" gorm:"primaryKey"`
	BatchID      string        `json:"batch_id" gorm:"index"`
	Source       string        `json:"source" gorm:"not null;index"`
	Status       TaskStatus    `json:"status" gorm:"not null;index"`
	Quality      string        `json:"quality"`
	Format       string        `json:"format"`
	AttemptCount int           `json:"attempt_count"`
	Category     ErrorCategory `json:"category,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	LocalPath    string        `json:"local_path,omitempty"`
	Title        string        `json:"title,omitempty"`
	Resumed      bool          `json:"resumed"`
	DurationMs   int64         `json:"duration_ms"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// NewTaskRecord builds a history record from a terminal task
func NewTaskRecord(t *Task) *TaskRecord {
	rec := &TaskRecord{
		ID:           t.ID,
		BatchID:      t.BatchID,
		Source:       t.Source,
		Status:       t.Status,
		Quality:      t.Config.Quality,
		Format:       t.Config.Format,
		AttemptCount: t.AttemptCount,
		ErrorMessage: t.LastError,
		CreatedAt:    t.CreatedAt,
		CompletedAt:  time.Now(),
	}
	if t.CompletedAt != nil {
		rec.CompletedAt = *t.CompletedAt
	}
	if r := t.Result; r != nil {
		rec.LocalPath = r.LocalPath
		rec.Resumed = r.Resumed
		rec.DurationMs = r.Duration.Milliseconds()
		if r.Metadata != nil {
			rec.Title = r.Metadata.Title
		}
		if r.Classification != nil {
			rec.Category = r.Classification.Category
		}
	}
	return rec
}

// TaskRepository defines the interface for task history persistence
type TaskRepository interface {
	// Save inserts or replaces a record
	Save(record *TaskRecord) error

	// FindByID finds a record by task ID
	FindByID(id string) (*TaskRecord, error)

	// FindByBatch finds all records of a batch
	FindByBatch(batchID string) ([]*TaskRecord, error)

	// FindRecent returns the most recent records, newest first
	FindRecent(limit int) ([]*TaskRecord, error)

	// GetStats returns history statistics
	GetStats() (*TaskStats, error)
}

// TaskStats represents task history statistics
type TaskStats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Resumed   int64 `json:"resumed"`
}
