package domain

import "time"

// ProgressSnapshot is the live progress of one task
type ProgressSnapshot struct {
	TaskID          string        `json:"task_id"`
	Label           string        `json:"label"`
	DownloadedBytes int64         `json:"downloaded_bytes"`
	TotalBytes      int64         `json:"total_bytes"`
	Rate            float64       `json:"rate"` // bytes per second
	ETA             time.Duration `json:"eta"`
	Status          TaskStatus    `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
}

// Percent returns the completed share of the task
func (p ProgressSnapshot) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
}

// AggregateSnapshot is the progress of all tracked tasks
type AggregateSnapshot struct {
	DownloadedBytes int64              `json:"downloaded_bytes"`
	TotalBytes      int64              `json:"total_bytes"`
	Rate            float64            `json:"rate"`
	ETA             time.Duration      `json:"eta"`
	TotalFiles      int                `json:"total_files"`
	CompletedFiles  int                `json:"completed_files"`
	FailedFiles     int                `json:"failed_files"`
	ActiveCount     int                `json:"active_count"`
	OverallPercent  float64            `json:"overall_percent"`
	Elapsed         time.Duration      `json:"elapsed"`
	Active          []ProgressSnapshot `json:"active,omitempty"`
}
