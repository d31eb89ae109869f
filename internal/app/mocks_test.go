package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/fetchq-go/internal/domain"
)

// memoryBackend implements domain.CheckpointBackend for testing
type memoryBackend struct {
	mu      sync.Mutex
	records map[string][]byte
	putErr  error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{records: make(map[string][]byte)}
}

func (m *memoryBackend) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.records[key] = append([]byte(nil), data...)
	return nil
}

func (m *memoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[key]
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}
	return data, nil
}

func (m *memoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *memoryBackend) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memoryBackend) Close() error { return nil }

func (m *memoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// fetchCall records one Fetch invocation
type fetchCall struct {
	Source       string
	Format       domain.FormatSpec
	ResumeOffset int64
	PartialPath  string
}

// mockFetcher implements domain.Fetcher with scripted failures per source
type mockFetcher struct {
	delay    time.Duration
	size     int64
	dir      string
	failures map[string][]error // consumed in order, one per attempt

	mu         sync.Mutex
	calls      []fetchCall
	completion []string

	running    atomic.Int32
	maxRunning atomic.Int32
}

func newMockFetcher(dir string) *mockFetcher {
	return &mockFetcher{
		size:     1000,
		dir:      dir,
		failures: make(map[string][]error),
	}
}

func (m *mockFetcher) failWith(source string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[source] = append(m.failures[source], errs...)
}

func (m *mockFetcher) Fetch(ctx context.Context, req domain.FetchRequest) (*domain.FetchResult, error) {
	n := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		peak := m.maxRunning.Load()
		if n <= peak || m.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, fetchCall{
		Source:       req.Source,
		Format:       req.Format,
		ResumeOffset: req.ResumeOffset,
		PartialPath:  req.PartialPath,
	})
	var failure error
	if errs := m.failures[req.Source]; len(errs) > 0 {
		failure = errs[0]
		m.failures[req.Source] = errs[1:]
	}
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if req.OnProgress != nil {
		req.OnProgress(m.size/2, m.size, 100, time.Second)
	}
	if failure != nil {
		return nil, failure
	}
	if req.OnProgress != nil {
		req.OnProgress(m.size, m.size, 100, 0)
	}

	m.mu.Lock()
	m.completion = append(m.completion, req.Source)
	m.mu.Unlock()

	return &domain.FetchResult{
		LocalPath: filepath.Join(m.dir, filepath.Base(req.Source)+".mp4"),
		Metadata:  domain.Metadata{ID: req.Source, Title: "title " + req.Source},
	}, nil
}

func (m *mockFetcher) Calls() []fetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fetchCall(nil), m.calls...)
}

func (m *mockFetcher) Completion() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completion...)
}

// partialFetcher writes a partial file and reports it before failing
type partialFetcher struct {
	dir     string
	written int64
	calls   []fetchCall
	mu      sync.Mutex
	fail    bool
}

func (p *partialFetcher) Fetch(ctx context.Context, req domain.FetchRequest) (*domain.FetchResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, fetchCall{Source: req.Source, ResumeOffset: req.ResumeOffset, PartialPath: req.PartialPath})
	fail := p.fail
	p.mu.Unlock()

	partial := filepath.Join(p.dir, "video.mp4.part")
	if err := os.WriteFile(partial, make([]byte, p.written), 0644); err != nil {
		return nil, err
	}
	if req.OnPartial != nil {
		req.OnPartial(partial)
	}
	req.OnProgress(p.written, p.written*2, 10, time.Second)
	if fail {
		return nil, errors.New("video is private")
	}
	return &domain.FetchResult{LocalPath: filepath.Join(p.dir, "video.mp4")}, nil
}

// mockSegmenter implements domain.Segmenter
type mockSegmenter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockSegmenter) Segment(ctx context.Context, path string, cuts []domain.CutPoint) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]string, len(cuts))
	for i := range cuts {
		out[i] = fmt.Sprintf("%s.part%d", path, i)
	}
	return out, nil
}

// recordingPublisher implements domain.EventPublisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TaskEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, event domain.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) Types(taskID string) []domain.TaskEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []domain.TaskEventType
	for _, e := range r.events {
		if e.TaskID == taskID {
			types = append(types, e.Type)
		}
	}
	return types
}

// mockRepo implements domain.TaskRepository for testing
type mockRepo struct {
	mu      sync.Mutex
	records map[string]*domain.TaskRecord
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[string]*domain.TaskRecord)}
}

func (m *mockRepo) Save(record *domain.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return nil
}

func (m *mockRepo) FindByID(id string) (*domain.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return rec, nil
}

func (m *mockRepo) FindByBatch(batchID string) ([]*domain.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TaskRecord
	for _, rec := range m.records {
		if rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockRepo) FindRecent(limit int) ([]*domain.TaskRecord, error) { return nil, nil }
func (m *mockRepo) GetStats() (*domain.TaskStats, error)               { return &domain.TaskStats{}, nil }

func (m *mockRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
