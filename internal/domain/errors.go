package domain

import (
	"errors"
	"time"
)

// ErrorCategory is the failure class of a fetch error
type ErrorCategory string

const (
	CategoryNetwork          ErrorCategory = "network"
	CategoryContentPermanent ErrorCategory = "content-permanent"
	CategoryContentTransient ErrorCategory = "content-transient"
	CategoryFilesystem       ErrorCategory = "filesystem"
	CategoryProcessing       ErrorCategory = "processing"
	CategoryRateLimit        ErrorCategory = "rate-limit"
	CategoryValidation       ErrorCategory = "validation"
	CategoryUnknown          ErrorCategory = "unknown"
)

// ErrorSeverity grades how serious a failure is
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorClassification is the result of classifying a raw error
type ErrorClassification struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Retryable bool          `json:"retryable"`
	// SuggestedDelay is the server supplied retry-after, zero when absent
	SuggestedDelay time.Duration `json:"suggested_delay,omitempty"`
	Reason         string        `json:"reason,omitempty"` // e.g. geo, age, private
	Suggestion     string        `json:"suggestion,omitempty"`
	Message        string        `json:"message"`
}

// ProviderError is returned by fetchers that know more than a message
type ProviderError struct {
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error { return e.Cause }

var (
	ErrPoolClosed          = errors.New("worker pool is shut down")
	ErrInvalidParallelism  = errors.New("worker count must be between 1 and 10")
	ErrTaskNotFound        = errors.New("task not found")
	ErrCheckpointNotFound  = errors.New("checkpoint not found")
	ErrUnsupportedVersion  = errors.New("unsupported checkpoint version")
	ErrEmptyBatch          = errors.New("batch contains no requests")
	ErrOrchestratorStopped = errors.New("orchestrator is shut down")
)
