package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forksnd/convey/internal/application/dispatcher"
	"github.com/forksnd/convey/internal/application/orchestrator"
	"github.com/forksnd/convey/internal/application/workers"
	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/pipeline"
	artifactsmem "github.com/forksnd/convey/pkg/adapters/artifacts/memory"
	"github.com/forksnd/convey/pkg/adapters/backends"
	eventsmem "github.com/forksnd/convey/pkg/adapters/events/memory"
	"github.com/forksnd/convey/pkg/adapters/metrics/noop"
	storagemem "github.com/forksnd/convey/pkg/adapters/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// instantBackend accepts every job and reports it succeeded on first poll.
type instantBackend struct{ seq atomic.Int64 }

func (b *instantBackend) Kind() string { return "ci" }

func (b *instantBackend) Trigger(ctx context.Context, spec domain.JobSpec) (domain.JobRef, error) {
	return domain.JobRef{Backend: "ci", ID: fmt.Sprintf("job-%d", b.seq.Add(1))}, nil
}

func (b *instantBackend) Poll(ctx context.Context, ref domain.JobRef) (domain.JobStatus, error) {
	return domain.JobStatusSucceeded, nil
}

func (b *instantBackend) Cancel(ctx context.Context, ref domain.JobRef) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zap.NewNop()
	metrics := noop.NewCollector()

	registry, err := backends.NewRegistry(&instantBackend{})
	require.NoError(t, err)

	bus := eventsmem.NewInMemoryEventBus()
	store := storagemem.NewRunStore()
	artifacts := artifactsmem.NewArtifactStore()
	pipelines := pipeline.NewRegistry()

	disp := dispatcher.New(registry, metrics, logger, dispatcher.Config{
		InitialPollInterval: 2 * time.Millisecond,
		MaxPollInterval:     5 * time.Millisecond,
	})

	manager := orchestrator.NewManager(pipelines, bus, store, disp, metrics,
		orchestrator.NewValidator(registry), logger, 30*time.Second)
	require.NoError(t, manager.Start(context.Background()))

	pool := workers.NewPool(1, bus, store, artifacts, disp, metrics, logger,
		10*time.Second, time.Minute)
	require.NoError(t, pool.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		_ = pool.Shutdown(ctx)
	})

	return NewServer(&Config{
		Port:         0,
		Orchestrator: manager,
		Pipelines:    pipelines,
		Artifacts:    artifacts,
		Health:       nil,
		Logger:       logger,
	})
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const declYAML = `
name: release
stages:
  - name: build
    backend: ci
  - name: publish
    backend: ci
    needs: [build]
`

func TestRegisterAndListPipelines(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/pipelines", []byte(declYAML))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(s, http.MethodGet, "/api/v1/pipelines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "release")

	rec = doRequest(s, http.MethodGet, "/api/v1/pipelines/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/pipelines/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterPipelineRejectsMalformed(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/pipelines", []byte("{not yaml"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/v1/pipelines", []byte("name: empty\nstages: []\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTriggerRunLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/pipelines", []byte(declYAML))
	require.Equal(t, http.StatusCreated, rec.Code)

	body, _ := json.Marshal(TriggerRunRequest{Pipeline: "release"})
	rec = doRequest(s, http.MethodPost, "/api/v1/runs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp TriggerRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)

	require.Eventually(t, func() bool {
		rec := doRequest(s, http.MethodGet, "/api/v1/runs/"+resp.RunID+"/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var status struct {
			Status domain.Status `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.Status == domain.StatusSucceeded
	}, 5*time.Second, 5*time.Millisecond)

	rec = doRequest(s, http.MethodGet, "/api/v1/runs/"+resp.RunID+"/artifacts/build", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Artifact-Sha256"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = doRequest(s, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), resp.RunID)
}

func TestTriggerRunUnknownPipeline(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(TriggerRunRequest{Pipeline: "ghost"})
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/runs/missing/artifacts/build", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
