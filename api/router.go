package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/api/handlers"
	"github.com/yourusername/fetchq-go/api/middleware"
	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// RouterConfig holds what the HTTP layer is built from
type RouterConfig struct {
	Orchestrator *app.Orchestrator
	// Repository serves task history; nil disables history in responses
	Repository domain.TaskRepository
	// MultiLogger provides the category logs served under /logs
	MultiLogger   *logger.MultiLogger
	MaxResumeDays int
	Logger        *zap.Logger
}

// SetupRouter sets up the HTTP router and registers the progress stream with the orchestrator
func SetupRouter(config RouterConfig) *gin.Engine {
	log := logger.OrNop(config.Logger)

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(log, config.MultiLogger))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(config.Orchestrator)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	progressHub := handlers.NewProgressHub(config.Orchestrator.Summary, log)
	config.Orchestrator.AddProgressSink(progressHub)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		batchHandler := handlers.NewBatchHandler(config.Orchestrator, log)
		v1.POST("/batches", batchHandler.CreateBatch)
		v1.GET("/batches/:id", batchHandler.GetBatch)

		taskHandler := handlers.NewTaskHandler(config.Orchestrator, config.Repository, log)
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", taskHandler.ListTasks)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.POST("/:id/cancel", taskHandler.CancelTask)
		}
		v1.GET("/progress", taskHandler.GetProgress)
		v1.GET("/progress/ws", progressHub.HandleWebSocket)
		v1.GET("/stats", taskHandler.GetStats)
		v1.PUT("/workers", taskHandler.SetWorkers)

		checkpointHandler := handlers.NewCheckpointHandler(config.Orchestrator.ResumeStore(), config.MaxResumeDays, log)
		checkpoints := v1.Group("/checkpoints")
		{
			checkpoints.GET("", checkpointHandler.ListCheckpoints)
			checkpoints.DELETE("", checkpointHandler.DeleteCheckpoint)
			checkpoints.POST("/gc", checkpointHandler.CollectCheckpoints)
		}

		if logsDir := config.MultiLogger.GetLogsDir(); logsDir != "" {
			logHandler := handlers.NewLogHandler(logsDir)
			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/search", logHandler.SearchLogs)
				logs.GET("/:category/export", logHandler.ExportLogs)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
