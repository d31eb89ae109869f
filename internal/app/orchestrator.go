package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

const idlePollInterval = 20 * time.Millisecond

// Dependencies are the collaborators of an Orchestrator.
// Everything except Fetcher is optional.
type Dependencies struct {
	Fetcher     domain.Fetcher
	Segmenter   domain.Segmenter
	Resume      *ResumeStore
	Repository  domain.TaskRepository
	Events      domain.EventPublisher
	MultiLogger *logger.MultiLogger
}

// Stats are cumulative task statistics of an orchestrator
type Stats struct {
	TotalTasks  int           `json:"total_tasks"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	Cancelled   int           `json:"cancelled"`
	Resumed     int           `json:"resumed"`
	Retries     int           `json:"retries"`
	TotalTime   time.Duration `json:"total_time"`
	AverageTime time.Duration `json:"average_time"`
}

// QueueStatus describes the scheduling state
type QueueStatus struct {
	QueueSize   int                       `json:"queue_size"`
	ActiveTasks int                       `json:"active_tasks"`
	Workers     int                       `json:"workers"`
	Counts      map[domain.TaskStatus]int `json:"counts"`
	Tasks       []domain.Task             `json:"tasks,omitempty"`
}

// BatchStatus describes an asynchronously submitted batch
type BatchStatus struct {
	ID          string               `json:"id"`
	TaskIDs     []string             `json:"task_ids"`
	Config      domain.RequestConfig `json:"config"`
	Done        bool                 `json:"done"`
	Error       string               `json:"error,omitempty"`
	Results     []*domain.Result     `json:"results,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// Orchestrator owns the queue, pool and stores, and runs batches of requests
type Orchestrator struct {
	fetcher     domain.Fetcher
	segmenter   domain.Segmenter
	resume      *ResumeStore
	repo        domain.TaskRepository
	events      domain.EventPublisher
	multiLogger *logger.MultiLogger
	logger      *zap.Logger

	queue    *TaskQueue
	pool     *WorkerPool
	progress *ProgressAggregator
	retry    *RetryCoordinator

	defaults    domain.RequestConfig
	resumeCfg   domain.ResumeConfig
	purgeAfter  int
	sinceLastGC int

	mu      sync.Mutex
	stats   Stats
	batches map[string]*BatchStatus
	stopped bool
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator and its components
func NewOrchestrator(deps Dependencies, config *domain.Config, log *zap.Logger) *Orchestrator {
	log = logger.OrNop(log)
	if config == nil {
		config = domain.DefaultConfig()
	}

	o := &Orchestrator{
		fetcher:     deps.Fetcher,
		segmenter:   deps.Segmenter,
		resume:      deps.Resume,
		repo:        deps.Repository,
		events:      deps.Events,
		multiLogger: deps.MultiLogger,
		logger:      log,
		queue:       NewTaskQueue(log),
		progress:    NewProgressAggregator(config.Progress.EmitInterval, log),
		retry:       NewRetryCoordinator(config.Retry, log),
		defaults:    config.Orchestrator.Defaults.Normalize(),
		resumeCfg:   config.Resume,
		purgeAfter:  config.Orchestrator.PurgeAfter,
		batches:     make(map[string]*BatchStatus),
	}
	o.pool = NewWorkerPool(o.queue, o, WorkerPoolConfig{
		PollTimeout: config.Orchestrator.PollTimeout,
		OnTerminal:  o.onTerminal,
		OnRetry:     o.onRetry,
	}, log)

	if o.multiLogger != nil {
		o.progress.AddSink(domain.ProgressSinkFunc(o.logProgress))
	}
	return o
}

// Defaults returns the default request config
func (o *Orchestrator) Defaults() domain.RequestConfig {
	return o.defaults
}

// AddProgressSink registers an external progress sink
func (o *Orchestrator) AddProgressSink(sink domain.ProgressSink) {
	o.progress.AddSink(sink)
}

// SubmitBatch runs all requests and blocks until every task is terminal.
// Results are returned in request order.
func (o *Orchestrator) SubmitBatch(ctx context.Context, requests []domain.Request, config domain.RequestConfig) ([]*domain.Result, error) {
	if len(requests) == 0 {
		return []*domain.Result{}, nil
	}

	handles, err := o.submit(uuid.New().String(), requests, config)
	if err != nil {
		return nil, err
	}
	return o.collect(ctx, handles)
}

// SubmitSingle runs one request and blocks until it is terminal
func (o *Orchestrator) SubmitSingle(ctx context.Context, request domain.Request, config domain.RequestConfig) (*domain.Result, error) {
	results, err := o.SubmitBatch(ctx, []domain.Request{request}, config)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// StartBatch submits requests without waiting; progress is read with GetBatch
func (o *Orchestrator) StartBatch(requests []domain.Request, config domain.RequestConfig) (BatchStatus, error) {
	if len(requests) == 0 {
		return BatchStatus{}, domain.ErrEmptyBatch
	}

	batchID := uuid.New().String()
	handles, err := o.submit(batchID, requests, config)
	if err != nil {
		return BatchStatus{}, err
	}

	status := &BatchStatus{
		ID:        batchID,
		Config:    config.Normalize(),
		CreatedAt: time.Now(),
	}
	for _, h := range handles {
		status.TaskIDs = append(status.TaskIDs, h.TaskID())
	}

	o.mu.Lock()
	o.batches[batchID] = status
	snapshot := cloneBatch(status)
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		results, err := o.collect(context.Background(), handles)

		o.mu.Lock()
		defer o.mu.Unlock()
		now := time.Now()
		status.Done = true
		status.Results = results
		status.CompletedAt = &now
		if err != nil {
			status.Error = err.Error()
		}
	}()

	return snapshot, nil
}

// GetBatch returns the status of an asynchronously submitted batch
func (o *Orchestrator) GetBatch(id string) (BatchStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	status, ok := o.batches[id]
	if !ok {
		return BatchStatus{}, false
	}
	return cloneBatch(status), true
}

func cloneBatch(b *BatchStatus) BatchStatus {
	c := *b
	c.TaskIDs = append([]string(nil), b.TaskIDs...)
	c.Results = append([]*domain.Result(nil), b.Results...)
	return c
}

// submit builds tasks for requests and hands them to the pool
func (o *Orchestrator) submit(batchID string, requests []domain.Request, config domain.RequestConfig) ([]*Handle, error) {
	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		return nil, domain.ErrOrchestratorStopped
	}

	config = config.Normalize()
	if err := o.pool.Configure(config.Parallelism); err != nil {
		if err == domain.ErrPoolClosed {
			return nil, domain.ErrOrchestratorStopped
		}
		return nil, fmt.Errorf("failed to configure workers: %w", err)
	}

	handles := make([]*Handle, 0, len(requests))
	for i, req := range requests {
		task := domain.NewTask(req, config)
		task.BatchID = batchID
		task.Index = i

		o.multiLogger.LogQueueEvent("task_queued",
			zap.String("id", task.ID),
			zap.String("batch_id", batchID),
			zap.Int("index", i),
			zap.String("source", task.Source))
		o.publish(o.event(domain.EventQueued, task))

		h, err := o.pool.Submit(task)
		if err != nil {
			for _, prev := range handles {
				o.pool.Cancel(prev)
			}
			return nil, domain.ErrOrchestratorStopped
		}
		handles = append(handles, h)
	}

	o.logger.Info("Batch submitted",
		zap.String("batch_id", batchID),
		zap.Int("tasks", len(handles)),
		zap.Int("parallelism", config.Parallelism))
	return handles, nil
}

// collect waits for handles; handles are in request order
func (o *Orchestrator) collect(ctx context.Context, handles []*Handle) ([]*domain.Result, error) {
	results := make([]*domain.Result, len(handles))
	for i, h := range handles {
		select {
		case <-h.Done():
			results[i] = h.Task().Result
		case <-ctx.Done():
			for _, other := range handles {
				o.pool.Cancel(other)
			}
			return fillResults(results, handles), ctx.Err()
		}
	}
	return results, nil
}

// fillResults stores every result that is already known
func fillResults(results []*domain.Result, handles []*Handle) []*domain.Result {
	for i, h := range handles {
		select {
		case <-h.Done():
			results[i] = h.Task().Result
		default:
		}
	}
	return results
}

// Execute runs one fetch attempt of a task
func (o *Orchestrator) Execute(ctx context.Context, task *domain.Task) Outcome {
	o.multiLogger.LogQueueEvent("task_started",
		zap.String("id", task.ID),
		zap.String("source", task.Source),
		zap.Int("attempt", task.AttemptCount))
	o.publish(o.event(domain.EventStarted, task))
	o.progress.Start(task.ID, task.Source, 0)

	req := domain.FetchRequest{
		Source:          task.Source,
		Format:          task.Config.FormatSpec(),
		OutputDirectory: task.Config.OutputDirectory,
	}

	resumeEnabled := task.Config.ResumeEnabled && o.resume != nil
	var resumed *domain.ResumeCheckpoint
	if resumeEnabled {
		if cp, ok := o.resume.Load(ctx, task.Source, task.Config); ok {
			resumed = cp
			req.ResumeOffset = cp.DownloadedBytes
			req.PartialPath = cp.PartialPath
			o.progress.Start(task.ID, task.Source, cp.TotalBytes)
			o.progress.Update(task.ID, cp.DownloadedBytes, cp.TotalBytes, 0, 0)
			o.logger.Info("Resuming download",
				zap.String("id", task.ID),
				zap.String("source", task.Source),
				zap.Int64("offset", cp.DownloadedBytes),
				zap.Float64("percent", cp.ResumePercentage()))
		}
	}

	writer := &checkpointWriter{
		store:   o.resume,
		trigger: NewCheckpointTrigger(o.resumeCfg.PercentStep, o.resumeCfg.ByteStep, req.ResumeOffset),
		base: domain.ResumeCheckpoint{
			Source:            task.Source,
			ConfigFingerprint: task.Config.Fingerprint(),
			PartialPath:       req.PartialPath,
		},
		orchestrator: o,
	}
	if resumed != nil {
		writer.base.VideoID = resumed.VideoID
		writer.base.Title = resumed.Title
	}

	req.OnPartial = writer.setPartial
	req.OnProgress = func(downloaded, total int64, rate float64, eta time.Duration) {
		o.progress.Update(task.ID, downloaded, total, rate, eta)
		if resumeEnabled {
			writer.progress(ctx, downloaded, total)
		}
	}

	fetched, err := o.fetcher.Fetch(ctx, req)
	if err == nil {
		if resumeEnabled {
			if ierr := o.resume.Invalidate(ctx, task.Source); ierr != nil {
				o.logger.Warn("Failed to clear checkpoint", zap.String("source", task.Source), zap.Error(ierr))
			}
		}

		result := &domain.Result{
			Success:   true,
			LocalPath: fetched.LocalPath,
			Metadata:  &fetched.Metadata,
			Resumed:   resumed != nil,
			Duration:  attemptDuration(task),
		}
		if len(task.CutPoints) > 0 && o.segmenter != nil {
			segments, serr := o.segmenter.Segment(ctx, fetched.LocalPath, task.CutPoints)
			if serr == nil {
				result.SegmentPaths = segments
			} else {
				err = fmt.Errorf("segment processing failed: %w", serr)
			}
		}
		if err == nil {
			o.progress.Complete(task.ID, true, 0)
			return Outcome{Result: result}
		}
	}

	classification := o.retry.Classify(err)
	retries := task.AttemptCount - 1
	if task.CanRetry() && o.retry.ShouldRetry(classification, retries, task.Config.RetryAttempts) {
		delay := o.retry.Delay(retries, classification)
		o.progress.Stall(task.ID)
		o.logger.Warn("Fetch attempt failed, retrying",
			zap.String("id", task.ID),
			zap.String("source", task.Source),
			zap.Int("attempt", task.AttemptCount),
			zap.String("category", string(classification.Category)),
			zap.Duration("delay", delay),
			zap.Error(err))
		return Outcome{Retry: true, Delay: delay, Error: err.Error(), Classification: &classification}
	}

	o.progress.Complete(task.ID, false, 0)
	o.logger.Error("Task failed",
		zap.String("id", task.ID),
		zap.String("source", task.Source),
		zap.Int("attempts", task.AttemptCount),
		zap.String("category", string(classification.Category)),
		zap.Error(err))
	o.multiLogger.LogAppError("Task failed",
		zap.String("id", task.ID),
		zap.String("source", task.Source),
		zap.String("category", string(classification.Category)),
		zap.Error(err))

	return Outcome{Result: &domain.Result{
		Success:        false,
		ErrorMessage:   err.Error(),
		Classification: &classification,
		Resumed:        resumed != nil,
		Duration:       attemptDuration(task),
	}}
}

func attemptDuration(task *domain.Task) time.Duration {
	if task.StartedAt == nil {
		return 0
	}
	return time.Since(*task.StartedAt)
}

// checkpointWriter persists progress of one attempt when the trigger fires
type checkpointWriter struct {
	mu           sync.Mutex
	store        *ResumeStore
	trigger      *CheckpointTrigger
	base         domain.ResumeCheckpoint
	orchestrator *Orchestrator
}

func (w *checkpointWriter) setPartial(path string) {
	w.mu.Lock()
	w.base.PartialPath = path
	w.mu.Unlock()
}

func (w *checkpointWriter) progress(ctx context.Context, downloaded, total int64) {
	w.mu.Lock()
	if w.base.PartialPath == "" || !w.trigger.ShouldSave(downloaded, total) {
		w.mu.Unlock()
		return
	}
	cp := w.base
	cp.DownloadedBytes = downloaded
	cp.TotalBytes = total
	w.mu.Unlock()

	if err := w.store.Save(ctx, &cp); err != nil {
		w.orchestrator.logger.Warn("Failed to save checkpoint", zap.String("source", cp.Source), zap.Error(err))
		w.orchestrator.multiLogger.LogAppError("Failed to save checkpoint",
			zap.String("source", cp.Source),
			zap.Error(err))
	}
}

// onRetry is called by the pool when a task waits for another attempt
func (o *Orchestrator) onRetry(task domain.Task, delay time.Duration) {
	o.mu.Lock()
	o.stats.Retries++
	o.mu.Unlock()

	o.multiLogger.LogQueueEvent("task_retrying",
		zap.String("id", task.ID),
		zap.Int("attempt", task.AttemptCount),
		zap.Duration("delay", delay),
		zap.String("error", task.LastError))

	event := o.event(domain.EventRetrying, &task)
	event.Message = task.LastError
	event.Delay = delay
	o.publish(event)
}

// onTerminal is called by the pool once per finished task
func (o *Orchestrator) onTerminal(task domain.Task) {
	o.mu.Lock()
	o.stats.TotalTasks++
	switch task.Status {
	case domain.StatusCompleted:
		o.stats.Successful++
	case domain.StatusCancelled:
		o.stats.Cancelled++
	default:
		o.stats.Failed++
	}
	if task.Result != nil {
		if task.Result.Resumed {
			o.stats.Resumed++
		}
		o.stats.TotalTime += task.Result.Duration
	}
	if finished := o.stats.Successful + o.stats.Failed; finished > 0 {
		o.stats.AverageTime = o.stats.TotalTime / time.Duration(finished)
	}
	purge := false
	if o.purgeAfter > 0 {
		o.sinceLastGC++
		if o.sinceLastGC >= o.purgeAfter {
			o.sinceLastGC = 0
			purge = true
		}
	}
	o.mu.Unlock()

	// no-op unless the task ended outside an attempt, e.g. an abandoned retry
	o.progress.Complete(task.ID, task.Status == domain.StatusCompleted, 0)

	if o.repo != nil {
		if err := o.repo.Save(domain.NewTaskRecord(&task)); err != nil {
			o.logger.Warn("Failed to save task history", zap.String("id", task.ID), zap.Error(err))
		}
	}

	eventType := domain.EventFailed
	switch task.Status {
	case domain.StatusCompleted:
		eventType = domain.EventCompleted
	case domain.StatusCancelled:
		eventType = domain.EventCancelled
	}
	event := o.event(eventType, &task)
	if task.Result != nil {
		event.Message = task.Result.ErrorMessage
		if task.Result.Classification != nil {
			event.Category = task.Result.Classification.Category
		}
	}
	o.publish(event)

	o.multiLogger.LogQueueEvent("task_"+string(task.Status),
		zap.String("id", task.ID),
		zap.String("source", task.Source),
		zap.Int("attempts", task.AttemptCount))

	if purge {
		o.queue.PurgeTerminal()
	}
}

func (o *Orchestrator) event(t domain.TaskEventType, task *domain.Task) domain.TaskEvent {
	return domain.TaskEvent{
		Type:    t,
		TaskID:  task.ID,
		BatchID: task.BatchID,
		Source:  task.Source,
		Attempt: task.AttemptCount,
	}
}

func (o *Orchestrator) publish(event domain.TaskEvent) {
	if o.events == nil {
		return
	}
	event.Timestamp = time.Now()
	if err := o.events.Publish(context.Background(), event); err != nil {
		o.logger.Warn("Failed to publish task event",
			zap.String("type", string(event.Type)),
			zap.String("id", event.TaskID),
			zap.Error(err))
	}
}

func (o *Orchestrator) logProgress(s domain.AggregateSnapshot) {
	o.multiLogger.LogProgress("progress",
		zap.Int64("downloaded_bytes", s.DownloadedBytes),
		zap.Int64("total_bytes", s.TotalBytes),
		zap.Float64("rate", s.Rate),
		zap.Duration("eta", s.ETA),
		zap.Int("total_files", s.TotalFiles),
		zap.Int("completed_files", s.CompletedFiles),
		zap.Int("failed_files", s.FailedFiles),
		zap.Int("active", s.ActiveCount))
}

// Configure resizes the worker pool
func (o *Orchestrator) Configure(workers int) error {
	if err := o.pool.Configure(workers); err != nil {
		if err == domain.ErrPoolClosed {
			return domain.ErrOrchestratorStopped
		}
		return err
	}
	return nil
}

// Cancel cancels a task that has not started yet
func (o *Orchestrator) Cancel(taskID string) bool {
	return o.pool.CancelTask(taskID)
}

// Task returns the current state of a task
func (o *Orchestrator) Task(taskID string) (domain.Task, bool) {
	return o.queue.Get(taskID)
}

// Summary returns the current aggregate progress
func (o *Orchestrator) Summary() domain.AggregateSnapshot {
	return o.progress.Summary()
}

// Stats returns cumulative task statistics
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// QueueStatus returns the scheduling state, with task copies when withTasks is set
func (o *Orchestrator) QueueStatus(withTasks bool) QueueStatus {
	status := QueueStatus{
		QueueSize:   o.queue.Len(),
		ActiveTasks: o.pool.ActiveCount(),
		Workers:     o.pool.Workers(),
		Counts:      o.queue.Counts(),
	}
	if withTasks {
		status.Tasks = o.queue.Snapshot()
	}
	return status
}

// WaitIdle blocks until no attempt is running or the timeout passes.
// It reports whether the orchestrator became idle.
func (o *Orchestrator) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for o.pool.ActiveCount() > 0 {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(idlePollInterval)
	}
	return true
}

// IsRunning reports whether the orchestrator still accepts work
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.stopped
}

// ResumeStore returns the resume store, nil when resume is unavailable
func (o *Orchestrator) ResumeStore() *ResumeStore {
	return o.resume
}

// Shutdown stops the orchestrator.
// With wait it finishes all submitted work first; without it queued tasks are cancelled.
func (o *Orchestrator) Shutdown(wait bool) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.pool.DrainAndShutdown(wait)
	if wait {
		o.wg.Wait()
	}
	if err := o.multiLogger.Sync(); err != nil {
		o.logger.Debug("Failed to sync category logs", zap.Error(err))
	}
	o.logger.Info("Orchestrator stopped", zap.Bool("drained", wait))
}
