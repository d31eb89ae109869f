package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// ResumeStore persists partial download progress so interrupted tasks can continue
type ResumeStore struct {
	backend domain.CheckpointBackend
	locks   *keyedMutex
	now     func() time.Time
	logger  *zap.Logger
}

// NewResumeStore creates a resume store on top of a checkpoint backend
func NewResumeStore(backend domain.CheckpointBackend, log *zap.Logger) *ResumeStore {
	return &ResumeStore{
		backend: backend,
		locks:   newKeyedMutex(),
		now:     time.Now,
		logger:  logger.OrNop(log),
	}
}

// Save writes or replaces the checkpoint of its source
func (s *ResumeStore) Save(ctx context.Context, cp *domain.ResumeCheckpoint) error {
	key := domain.CheckpointKey(cp.Source)
	unlock := s.locks.Lock(key)
	defer unlock()

	record := *cp
	record.LastModified = s.now()
	data, err := domain.EncodeCheckpoint(&record)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("Checkpoint saved",
		zap.String("source", cp.Source),
		zap.Int64("downloaded", cp.DownloadedBytes),
		zap.Int64("total", cp.TotalBytes))
	return nil
}

// Load returns a checkpoint usable for the given request config.
// Records that are invalid on disk or were written for another config are removed.
func (s *ResumeStore) Load(ctx context.Context, source string, config domain.RequestConfig) (*domain.ResumeCheckpoint, bool) {
	key := domain.CheckpointKey(source)
	unlock := s.locks.Lock(key)
	defer unlock()

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCheckpointNotFound) {
			s.logger.Warn("Failed to read checkpoint", zap.String("source", source), zap.Error(err))
		}
		return nil, false
	}

	cp, err := domain.DecodeCheckpoint(data)
	if err != nil {
		s.logger.Warn("Discarding unreadable checkpoint", zap.String("source", source), zap.Error(err))
		s.delete(ctx, key)
		return nil, false
	}

	if cp.Source != source {
		s.logger.Warn("Discarding checkpoint of another source",
			zap.String("source", source),
			zap.String("stored_source", cp.Source))
		s.delete(ctx, key)
		return nil, false
	}

	if !cp.IsValid() {
		s.logger.Info("Discarding invalid checkpoint",
			zap.String("source", source),
			zap.String("partial_path", cp.PartialPath),
			zap.Int64("recorded_bytes", cp.DownloadedBytes))
		s.delete(ctx, key)
		return nil, false
	}

	if !cp.Applicable(config.Fingerprint()) {
		s.logger.Info("Discarding checkpoint written for another config", zap.String("source", source))
		s.delete(ctx, key)
		return nil, false
	}

	return cp, true
}

// Invalidate removes the checkpoint of a source
func (s *ResumeStore) Invalidate(ctx context.Context, source string) error {
	key := domain.CheckpointKey(source)
	unlock := s.locks.Lock(key)
	defer unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// ListAll returns every usable checkpoint, most recently modified first.
// Checkpoints whose partial file is gone or has another size are deleted.
func (s *ResumeStore) ListAll(ctx context.Context) ([]*domain.ResumeCheckpoint, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	checkpoints := make([]*domain.ResumeCheckpoint, 0, len(keys))
	for _, key := range keys {
		if cp, ok := s.listed(ctx, key); ok {
			checkpoints = append(checkpoints, cp)
		}
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].LastModified.After(checkpoints[j].LastModified)
	})
	return checkpoints, nil
}

func (s *ResumeStore) listed(ctx context.Context, key string) (*domain.ResumeCheckpoint, bool) {
	unlock := s.locks.Lock(key)
	defer unlock()

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	cp, err := domain.DecodeCheckpoint(data)
	if err != nil {
		s.logger.Warn("Skipping unreadable checkpoint", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !cp.IsValid() {
		s.logger.Info("Discarding invalid checkpoint",
			zap.String("source", cp.Source),
			zap.String("partial_path", cp.PartialPath))
		s.delete(ctx, key)
		return nil, false
	}
	return cp, true
}

// GC removes checkpoints older than the given number of days and unreadable records
func (s *ResumeStore) GC(ctx context.Context, olderThanDays int) (int, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	removed := 0
	for _, key := range keys {
		if s.collect(ctx, key, cutoff) {
			removed++
		}
	}

	s.logger.Info("Checkpoint garbage collection finished",
		zap.Int("scanned", len(keys)),
		zap.Int("removed", removed),
		zap.Int("older_than_days", olderThanDays))
	return removed, nil
}

func (s *ResumeStore) collect(ctx context.Context, key string, cutoff time.Time) bool {
	unlock := s.locks.Lock(key)
	defer unlock()

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return false
	}
	if cp, err := domain.DecodeCheckpoint(data); err == nil && !cp.LastModified.Before(cutoff) {
		return false
	}
	return s.delete(ctx, key)
}

func (s *ResumeStore) delete(ctx context.Context, key string) bool {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to delete checkpoint", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// CheckpointTrigger decides when progress is worth persisting.
// A save is due after percentStep percent or byteStep bytes since the last save.
type CheckpointTrigger struct {
	percentStep float64
	byteStep    int64
	lastSaved   int64
}

// NewCheckpointTrigger creates a trigger starting at the given offset
func NewCheckpointTrigger(percentStep float64, byteStep int64, offset int64) *CheckpointTrigger {
	return &CheckpointTrigger{
		percentStep: percentStep,
		byteStep:    byteStep,
		lastSaved:   offset,
	}
}

// ShouldSave reports whether a save is due and records it when it is
func (t *CheckpointTrigger) ShouldSave(downloaded, total int64) bool {
	delta := downloaded - t.lastSaved
	if delta <= 0 {
		return false
	}

	due := t.byteStep > 0 && delta >= t.byteStep
	if !due && total > 0 && t.percentStep > 0 {
		due = float64(delta)/float64(total)*100 >= t.percentStep
	}
	if due {
		t.lastSaved = downloaded
	}
	return due
}

// keyedMutex serializes work per key and drops idle entries
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock of key and returns its release function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
