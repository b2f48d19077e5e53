package containerbuild

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forksnd/convey/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Token: "secret", Logger: zap.NewNop()})
}

func TestTriggerAndPoll(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/builds":
			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "run-1", req["run_id"])
			_ = json.NewEncoder(w).Encode(map[string]string{
				"build_id": "b-42",
				"web_url":  "https://builds.example.com/b-42",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/builds/b-42":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "building"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ref, err := c.Trigger(context.Background(), domain.JobSpec{RunID: "run-1", Stage: "build"})
	require.NoError(t, err)
	assert.Equal(t, "b-42", ref.ID)
	assert.Equal(t, BackendKind, ref.Backend)
	assert.Equal(t, "https://builds.example.com/b-42", ref.Link)

	status, err := c.Poll(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, status)
}

func TestServerErrorsAreTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Trigger(context.Background(), domain.JobSpec{})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestClientErrorsArePermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := c.Trigger(context.Background(), domain.JobSpec{})
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
}

func TestMapStatus(t *testing.T) {
	cases := map[string]domain.JobStatus{
		"pending":  domain.JobStatusQueued,
		"queued":   domain.JobStatusQueued,
		"building": domain.JobStatusRunning,
		"success":  domain.JobStatusSucceeded,
		"failed":   domain.JobStatusFailed,
		"canceled": domain.JobStatusCancelled,
	}
	for in, want := range cases {
		got, err := mapStatus(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := mapStatus("exploded")
	assert.Error(t, err)
}
