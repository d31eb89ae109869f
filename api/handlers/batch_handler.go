package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// BatchHandler handles batch submission requests
type BatchHandler struct {
	orchestrator *app.Orchestrator
	logger       *zap.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(orchestrator *app.Orchestrator, log *zap.Logger) *BatchHandler {
	return &BatchHandler{
		orchestrator: orchestrator,
		logger:       logger.OrNop(log),
	}
}

// CutPointRequest is a cut point with times in seconds
type CutPointRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
	Label string  `json:"label,omitempty"`
}

// SourceRequest is one entry of a batch
type SourceRequest struct {
	Source    string            `json:"source" binding:"required"`
	CutPoints []CutPointRequest `json:"cut_points,omitempty"`
}

// ConfigOverrides replaces individual fields of the default request config
type ConfigOverrides struct {
	Quality         *string `json:"quality,omitempty"`
	Format          *string `json:"format,omitempty"`
	OutputDirectory *string `json:"output_directory,omitempty"`
	Parallelism     *int    `json:"parallelism,omitempty"`
	ResumeEnabled   *bool   `json:"resume_enabled,omitempty"`
	RetryAttempts   *int    `json:"retry_attempts,omitempty"`
}

// CreateBatchRequest represents a request to start a batch.
// URLs is a shorthand for requests without cut points.
type CreateBatchRequest struct {
	Requests []SourceRequest  `json:"requests" binding:"dive"`
	URLs     []string         `json:"urls"`
	Config   *ConfigOverrides `json:"config,omitempty"`
}

// Apply merges the overrides onto base
func (o *ConfigOverrides) Apply(base domain.RequestConfig) domain.RequestConfig {
	if o == nil {
		return base
	}
	if o.Quality != nil {
		base.Quality = *o.Quality
	}
	if o.Format != nil {
		base.Format = *o.Format
	}
	if o.OutputDirectory != nil {
		base.OutputDirectory = *o.OutputDirectory
	}
	if o.Parallelism != nil {
		base.Parallelism = *o.Parallelism
	}
	if o.ResumeEnabled != nil {
		base.ResumeEnabled = *o.ResumeEnabled
	}
	if o.RetryAttempts != nil {
		base.RetryAttempts = *o.RetryAttempts
	}
	return base
}

// DomainRequests converts the body into orchestrator requests
func (r *CreateBatchRequest) DomainRequests() []domain.Request {
	requests := make([]domain.Request, 0, len(r.Requests)+len(r.URLs))
	for _, sr := range r.Requests {
		req := domain.Request{Source: strings.TrimSpace(sr.Source)}
		for _, cp := range sr.CutPoints {
			req.CutPoints = append(req.CutPoints, domain.CutPoint{
				Start: seconds(cp.Start),
				End:   seconds(cp.End),
				Label: cp.Label,
			})
		}
		requests = append(requests, req)
	}
	for _, url := range r.URLs {
		if url = strings.TrimSpace(url); url != "" {
			requests = append(requests, domain.Request{Source: url})
		}
	}
	return requests
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// CreateBatch handles POST /api/v1/batches
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requests := req.DomainRequests()
	if len(requests) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrEmptyBatch.Error()})
		return
	}

	config := req.Config.Apply(h.orchestrator.Defaults())
	batch, err := h.orchestrator.StartBatch(requests, config)
	if err != nil {
		if errors.Is(err, domain.ErrOrchestratorStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to start batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, batch)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batch, ok := h.orchestrator.GetBatch(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	c.JSON(http.StatusOK, batch)
}
