package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fetchq-go/internal/app"
	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/internal/infrastructure"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubFetcher writes a small file per source and fails sources containing "fail"
type stubFetcher struct {
	dir string
}

func (f *stubFetcher) Fetch(ctx context.Context, req domain.FetchRequest) (*domain.FetchResult, error) {
	if strings.Contains(req.Source, "fail") {
		return nil, errors.New("video is private")
	}
	path := filepath.Join(f.dir, filepath.Base(req.Source)+".mp4")
	if err := os.WriteFile(path, []byte("media"), 0644); err != nil {
		return nil, err
	}
	if req.OnProgress != nil {
		req.OnProgress(5, 5, 0, 0)
	}
	return &domain.FetchResult{LocalPath: path, Metadata: domain.Metadata{Title: req.Source}}, nil
}

type testServer struct {
	router       *gin.Engine
	orchestrator *app.Orchestrator
	resume       *app.ResumeStore
	repo         *infrastructure.SQLiteTaskRepository
	dir          string
}

func newTestServer(t *testing.T, withResume bool) *testServer {
	t.Helper()
	dir := t.TempDir()

	repo, err := infrastructure.NewSQLiteTaskRepository(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	var resume *app.ResumeStore
	if withResume {
		backend, err := infrastructure.NewBlobCheckpointBackend(context.Background(), "mem://")
		require.NoError(t, err)
		t.Cleanup(func() { backend.Close() })
		resume = app.NewResumeStore(backend, nil)
	}

	cfg := domain.DefaultConfig()
	cfg.Orchestrator.PollTimeout = 10 * time.Millisecond
	cfg.Orchestrator.Defaults.OutputDirectory = dir
	cfg.Progress.EmitInterval = time.Millisecond

	o := app.NewOrchestrator(app.Dependencies{
		Fetcher:    &stubFetcher{dir: dir},
		Resume:     resume,
		Repository: repo,
	}, cfg, nil)
	t.Cleanup(func() { o.Shutdown(false) })

	router := SetupRouter(RouterConfig{
		Orchestrator:  o,
		Repository:    repo,
		MaxResumeDays: 7,
	})
	return &testServer{router: router, orchestrator: o, resume: resume, repo: repo, dir: dir}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) waitBatch(t *testing.T, id string) app.BatchStatus {
	t.Helper()
	var batch app.BatchStatus
	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/api/v1/batches/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		batch = decode[app.BatchStatus](t, w)
		return batch.Done
	}, 5*time.Second, 10*time.Millisecond)
	return batch
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])

	w = s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.orchestrator.Shutdown(false)
	w = s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateBatch_RunsToCompletion(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"urls": []string{"https://example.com/a", "https://example.com/fail"},
		"requests": []map[string]any{
			{"source": "https://example.com/c"},
		},
		"config": map[string]any{"parallelism": 2, "retry_attempts": 0},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := decode[app.BatchStatus](t, w)
	require.Len(t, created.TaskIDs, 3)
	assert.Equal(t, 2, created.Config.Parallelism)

	batch := s.waitBatch(t, created.ID)
	require.Len(t, batch.Results, 3)
	// requests come before urls
	assert.Equal(t, "https://example.com/c", batch.Results[0].Source)
	assert.True(t, batch.Results[0].Success)
	assert.True(t, batch.Results[1].Success)
	assert.False(t, batch.Results[2].Success)
	require.NotNil(t, batch.Results[2].Classification)
	assert.Equal(t, domain.CategoryContentPermanent, batch.Results[2].Classification.Category)

	w = s.do(t, http.MethodGet, "/api/v1/tasks?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[app.QueueStatus](t, w)
	require.Len(t, status.Tasks, 1)
	assert.Equal(t, "https://example.com/fail", status.Tasks[0].Source)

	w = s.do(t, http.MethodGet, "/api/v1/tasks/"+created.TaskIDs[0], nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/stats?recent=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		Session app.Stats            `json:"session"`
		History domain.TaskStats     `json:"history"`
		Recent  []*domain.TaskRecord `json:"recent"`
	}](t, w)
	assert.Equal(t, 3, stats.Session.TotalTasks)
	assert.Equal(t, int64(3), stats.History.Total)
	assert.Equal(t, int64(1), stats.History.Failed)
	assert.Len(t, stats.Recent, 3)

	w = s.do(t, http.MethodGet, "/api/v1/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	progress := decode[domain.AggregateSnapshot](t, w)
	assert.Equal(t, 2, progress.CompletedFiles)
	assert.Equal(t, 1, progress.FailedFiles)
}

func TestCreateBatch_Validation(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/v1/batches", map[string]any{"urls": []string{" "}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"requests": []map[string]any{{"cut_points": []any{}}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "source is required")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.orchestrator.Shutdown(false)
	w = s.do(t, http.MethodPost, "/api/v1/batches", map[string]any{"urls": []string{"a"}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, false)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/batches/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/tasks/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/tasks/missing/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/nothing", nil).Code)
}

func TestCancelFinishedTask(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/v1/batches", map[string]any{"urls": []string{"https://example.com/a"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decode[app.BatchStatus](t, w)
	s.waitBatch(t, created.ID)

	w = s.do(t, http.MethodPost, "/api/v1/tasks/"+created.TaskIDs[0]+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSetWorkers(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPut, "/api/v1/workers", map[string]int{"workers": 4})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, s.orchestrator.QueueStatus(false).Workers)

	w = s.do(t, http.MethodPut, "/api/v1/workers", map[string]int{"workers": 11})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/workers", map[string]int{"workers": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckpoints(t *testing.T) {
	s := newTestServer(t, true)
	ctx := context.Background()

	partial := filepath.Join(s.dir, "partial.mp4.part")
	require.NoError(t, os.WriteFile(partial, make([]byte, 10), 0644))
	require.NoError(t, s.resume.Save(ctx, &domain.ResumeCheckpoint{
		Source:          "https://example.com/partial",
		PartialPath:     partial,
		DownloadedBytes: 10,
		TotalBytes:      100,
	}))

	w := s.do(t, http.MethodGet, "/api/v1/checkpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Count       int                        `json:"count"`
		Checkpoints []*domain.ResumeCheckpoint `json:"checkpoints"`
	}](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "https://example.com/partial", list.Checkpoints[0].Source)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/api/v1/checkpoints", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/v1/checkpoints?source=https://example.com/partial", nil).Code)

	w = s.do(t, http.MethodGet, "/api/v1/checkpoints", nil)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["count"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/checkpoints/gc?days=-1", nil).Code)
	w = s.do(t, http.MethodPost, "/api/v1/checkpoints/gc?days=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["older_than_days"])
}

func TestCheckpoints_Disabled(t *testing.T) {
	s := newTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/v1/checkpoints", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodOptions, "/api/v1/batches", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
