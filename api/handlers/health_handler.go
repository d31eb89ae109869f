package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fetchq-go/internal/app"
)

// Version is reported by the health endpoint
var Version = "dev"

// HealthHandler handles health check requests
type HealthHandler struct {
	orchestrator *app.Orchestrator
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(orchestrator *app.Orchestrator) *HealthHandler {
	return &HealthHandler{
		orchestrator: orchestrator,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Queue   struct {
		Running bool `json:"running"`
		Workers int  `json:"workers"`
		Size    int  `json:"size"`
	} `json:"queue"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.orchestrator.QueueStatus(false)

	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	response.Queue.Running = h.orchestrator.IsRunning()
	response.Queue.Workers = status.Workers
	response.Queue.Size = status.QueueSize

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.orchestrator.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "orchestrator shut down",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
