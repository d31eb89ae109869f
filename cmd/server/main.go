package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/api"
	"github.com/yourusername/fetchq-go/api/handlers"
	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/bootstrap"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath = flag.String("config", "", "Path to config file")
	noWait     = flag.Bool("no-wait", false, "Cancel in-flight tasks on shutdown instead of draining them")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fetchq-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := bootstrap.NewLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting fetchq server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.Int("workers", config.Orchestrator.Defaults.Parallelism),
		zap.String("resume_backend", config.Resume.Backend))

	rt, err := bootstrap.Build(context.Background(), config, log, bootstrap.Options{History: true, Events: true})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRouter(api.RouterConfig{
		Orchestrator:  rt.Orchestrator,
		Repository:    rt.Repository,
		MultiLogger:   rt.MultiLogger,
		MaxResumeDays: config.Resume.MaxAgeDays,
		Logger:        log,
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
		rt.Shutdown(false)
		return fmt.Errorf("failed to serve: %w", err)
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := rt.Shutdown(!*noWait); err != nil {
		log.Error("Error releasing resources", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
