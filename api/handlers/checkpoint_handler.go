package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// CheckpointHandler exposes the resume store
type CheckpointHandler struct {
	store         *app.ResumeStore
	defaultMaxAge int
	logger        *zap.Logger
}

// NewCheckpointHandler creates a checkpoint handler; store may be nil when resume is disabled
func NewCheckpointHandler(store *app.ResumeStore, defaultMaxAgeDays int, log *zap.Logger) *CheckpointHandler {
	return &CheckpointHandler{
		store:         store,
		defaultMaxAge: defaultMaxAgeDays,
		logger:        logger.OrNop(log),
	}
}

func (h *CheckpointHandler) available(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "resume store is disabled"})
		return false
	}
	return true
}

// ListCheckpoints handles GET /api/v1/checkpoints
func (h *CheckpointHandler) ListCheckpoints(c *gin.Context) {
	if !h.available(c) {
		return
	}

	checkpoints, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list checkpoints", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":       len(checkpoints),
		"checkpoints": checkpoints,
	})
}

// DeleteCheckpoint handles DELETE /api/v1/checkpoints?source=
func (h *CheckpointHandler) DeleteCheckpoint(c *gin.Context) {
	if !h.available(c) {
		return
	}

	source := c.Query("source")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'source' is required"})
		return
	}

	if err := h.store.Invalidate(c.Request.Context(), source); err != nil {
		h.logger.Error("Failed to delete checkpoint", zap.String("source", source), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "checkpoint deleted"})
}

// CollectCheckpoints handles POST /api/v1/checkpoints/gc?days=
func (h *CheckpointHandler) CollectCheckpoints(c *gin.Context) {
	if !h.available(c) {
		return
	}

	days := h.defaultMaxAge
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
			return
		}
		days = n
	}

	removed, err := h.store.GC(c.Request.Context(), days)
	if err != nil {
		h.logger.Error("Failed to collect checkpoints", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"removed":         removed,
		"older_than_days": days,
	})
}
