package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/internal/infrastructure"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// Options selects the optional parts of a runtime
type Options struct {
	// History persists terminal tasks to the sqlite store
	History bool
	// Events enables the kafka and desktop notification publishers
	Events bool
}

// Runtime is a fully wired orchestrator with the resources it owns
type Runtime struct {
	Config       *domain.Config
	Logger       *zap.Logger
	MultiLogger  *logger.MultiLogger
	Orchestrator *app.Orchestrator
	Repository   *infrastructure.SQLiteTaskRepository

	// settleTimeout bounds how long Shutdown(false) lets running attempts finish
	settleTimeout time.Duration
	closers       []func() error
}

const defaultSettleTimeout = 10 * time.Second

// NewLogger builds the application logger from the logging config
func NewLogger(config *domain.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
		Service:    "fetchq",
	})
}

// OpenResumeStore opens the configured checkpoint backend.
// The store is nil when the backend is "none".
func OpenResumeStore(ctx context.Context, config domain.ResumeConfig, log *zap.Logger) (*app.ResumeStore, func() error, error) {
	var backend domain.CheckpointBackend
	var err error

	switch config.Backend {
	case "none":
		return nil, func() error { return nil }, nil
	case "blob", "":
		backend, err = infrastructure.NewBlobCheckpointBackend(ctx, config.BucketURL)
	case "redis":
		backend, err = infrastructure.NewRedisCheckpointBackend(infrastructure.RedisCheckpointConfig{
			Address:  config.RedisAddress,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
			TTL:      maxAge(config.MaxAgeDays),
		})
	default:
		return nil, nil, fmt.Errorf("unknown resume backend: %s", config.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open resume backend: %w", err)
	}

	return app.NewResumeStore(backend, log), backend.Close, nil
}

// Build wires the orchestrator and its collaborators from config
func Build(ctx context.Context, config *domain.Config, log *zap.Logger, opts Options) (*Runtime, error) {
	log = logger.OrNop(log)
	rt := &Runtime{Config: config, Logger: log, settleTimeout: defaultSettleTimeout}

	if config.Tools.LogsDir != "" {
		multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
			Level:   config.Logging.Level,
			LogsDir: config.Tools.LogsDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize category logs: %w", err)
		}
		rt.MultiLogger = multiLog
		rt.closers = append(rt.closers, multiLog.Close)
	}

	if err := os.MkdirAll(config.Orchestrator.Defaults.OutputDirectory, 0755); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	resume, closeResume, err := OpenResumeStore(ctx, config.Resume, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeResume)

	deps := app.Dependencies{
		Fetcher:     infrastructure.NewYTDLPFetcher(config.Tools.YTDLPBinary, config.Tools.LogsDir, rt.MultiLogger, log),
		Segmenter:   infrastructure.NewFFmpegSegmenter(config.Tools.FFmpegBinary, rt.MultiLogger, log),
		Resume:      resume,
		MultiLogger: rt.MultiLogger,
	}

	if opts.History {
		repo, err := infrastructure.NewSQLiteTaskRepository(config.Store.DatabasePath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open task history: %w", err)
		}
		rt.Repository = repo
		rt.closers = append(rt.closers, repo.Close)
		deps.Repository = repo
	}

	if opts.Events {
		publishers := rt.eventPublishers(log)
		if publishers.Len() > 0 {
			deps.Events = publishers
		}
	}

	rt.Orchestrator = app.NewOrchestrator(deps, config, log)
	return rt, nil
}

func (rt *Runtime) eventPublishers(log *zap.Logger) *infrastructure.MultiPublisher {
	var publishers []domain.EventPublisher

	if brokers := rt.Config.Events.KafkaBrokers; brokers != "" {
		kafkaPublisher, err := infrastructure.NewKafkaEventPublisher(brokers, rt.Config.Events.KafkaTopic, log)
		if err != nil {
			log.Warn("Kafka events disabled", zap.Error(err))
		} else {
			publishers = append(publishers, kafkaPublisher)
			rt.closers = append(rt.closers, func() error {
				kafkaPublisher.Close()
				return nil
			})
		}
	}

	if rt.Config.Events.Notify {
		publishers = append(publishers, infrastructure.NewNotifier(rt.Config.Events.NotifyMethod, log))
	}

	return infrastructure.NewMultiPublisher(publishers...)
}

// Shutdown stops the orchestrator and releases every resource.
// Without wait queued work is cancelled, but running attempts still get a
// bounded time to finish so their results reach history before it is closed.
func (rt *Runtime) Shutdown(wait bool) error {
	if rt.Orchestrator != nil {
		rt.Orchestrator.Shutdown(wait)
		if !wait && !rt.Orchestrator.WaitIdle(rt.settleTimeout) {
			rt.Logger.Warn("Closing with attempts still running",
				zap.Int("active", rt.Orchestrator.QueueStatus(false).ActiveTasks),
				zap.Duration("waited", rt.settleTimeout))
		}
	}
	return rt.Close()
}

// Close releases resources in reverse order of acquisition
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func maxAge(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
