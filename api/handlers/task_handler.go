package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// TaskHandler handles task, progress and statistics requests
type TaskHandler struct {
	orchestrator *app.Orchestrator
	repo         domain.TaskRepository
	logger       *zap.Logger
}

// NewTaskHandler creates a new task handler; repo may be nil
func NewTaskHandler(orchestrator *app.Orchestrator, repo domain.TaskRepository, log *zap.Logger) *TaskHandler {
	return &TaskHandler{
		orchestrator: orchestrator,
		repo:         repo,
		logger:       logger.OrNop(log),
	}
}

// ListTasks handles GET /api/v1/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	status := h.orchestrator.QueueStatus(true)

	if filter := c.Query("status"); filter != "" {
		tasks := make([]domain.Task, 0, len(status.Tasks))
		for _, t := range status.Tasks {
			if string(t.Status) == filter {
				tasks = append(tasks, t)
			}
		}
		status.Tasks = tasks
	}

	c.JSON(http.StatusOK, status)
}

// GetTask handles GET /api/v1/tasks/:id.
// Tasks purged from memory are served from history.
func (h *TaskHandler) GetTask(c *gin.Context) {
	id := c.Param("id")

	if task, ok := h.orchestrator.Task(id); ok {
		c.JSON(http.StatusOK, task)
		return
	}

	if h.repo != nil {
		if record, err := h.repo.FindByID(id); err == nil {
			c.JSON(http.StatusOK, record)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// CancelTask handles POST /api/v1/tasks/:id/cancel
func (h *TaskHandler) CancelTask(c *gin.Context) {
	id := c.Param("id")

	if h.orchestrator.Cancel(id) {
		c.JSON(http.StatusOK, gin.H{"message": "task cancelled"})
		return
	}

	if task, ok := h.orchestrator.Task(id); ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "task can no longer be cancelled",
			"status": task.Status,
		})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// GetProgress handles GET /api/v1/progress
func (h *TaskHandler) GetProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Summary())
}

// GetStats handles GET /api/v1/stats
func (h *TaskHandler) GetStats(c *gin.Context) {
	response := gin.H{"session": h.orchestrator.Stats()}

	if h.repo != nil {
		history, err := h.repo.GetStats()
		if err != nil {
			h.logger.Error("Failed to get history stats", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		response["history"] = history

		limit, err := strconv.Atoi(c.DefaultQuery("recent", "10"))
		if err != nil || limit < 0 {
			limit = 10
		}
		if limit > 0 {
			recent, err := h.repo.FindRecent(limit)
			if err != nil {
				h.logger.Error("Failed to get recent tasks", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			response["recent"] = recent
		}
	}

	c.JSON(http.StatusOK, response)
}

// WorkersRequest represents a pool resize request
type WorkersRequest struct {
	Workers int `json:"workers" binding:"required"`
}

// SetWorkers handles PUT /api/v1/workers
func (h *TaskHandler) SetWorkers(c *gin.Context) {
	var req WorkersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.orchestrator.Configure(req.Workers)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"workers": req.Workers})
	case errors.Is(err, domain.ErrInvalidParallelism):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrOrchestratorStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to resize pool", zap.Int("workers", req.Workers), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
