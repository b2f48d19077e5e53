package testgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forksnd/convey/internal/domain"
	"go.uber.org/zap"
)

// BackendKind is the kind string stages use to select this backend.
const BackendKind = "test-pipeline"

// Config holds remote test pipeline service connection configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is a backend adapter for a remote test pipeline service. Jobs are
// test suite executions identified by the service's own pipeline run id.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new test pipeline backend client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}
}

// Kind returns the backend kind.
func (c *Client) Kind() string { return BackendKind }

type triggerRequest struct {
	RunID     string                       `json:"run_id"`
	Stage     string                       `json:"stage"`
	Params    map[string]domain.ParamValue `json:"params,omitempty"`
	TargetEnv string                       `json:"target_env,omitempty"`
}

type triggerResponse struct {
	PipelineRunID string `json:"pipeline_run_id"`
	WebURL        string `json:"web_url"`
}

type statusResponse struct {
	State string `json:"state"`
}

// Trigger starts a test pipeline run.
func (c *Client) Trigger(ctx context.Context, spec domain.JobSpec) (domain.JobRef, error) {
	body, err := json.Marshal(triggerRequest{
		RunID:     spec.RunID,
		Stage:     spec.Stage,
		Params:    spec.Params,
		TargetEnv: spec.TargetEnv,
	})
	if err != nil {
		return domain.JobRef{}, fmt.Errorf("marshal pipeline request: %w", err)
	}

	var resp triggerResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/pipeline-runs", body, &resp); err != nil {
		return domain.JobRef{}, err
	}
	if resp.PipelineRunID == "" {
		return domain.JobRef{}, fmt.Errorf("test service returned no pipeline run id")
	}

	c.logger.Debug("test pipeline triggered",
		zap.String("pipeline_run_id", resp.PipelineRunID),
		zap.String("run_id", spec.RunID),
		zap.String("stage", spec.Stage))

	return domain.JobRef{Backend: BackendKind, ID: resp.PipelineRunID, Link: resp.WebURL}, nil
}

// Poll fetches the current state of a test pipeline run.
func (c *Client) Poll(ctx context.Context, ref domain.JobRef) (domain.JobStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v2/pipeline-runs/"+ref.ID, nil, &resp); err != nil {
		return "", err
	}
	return mapState(resp.State)
}

// Cancel stops a test pipeline run.
func (c *Client) Cancel(ctx context.Context, ref domain.JobRef) error {
	return c.do(ctx, http.MethodDelete, "/api/v2/pipeline-runs/"+ref.ID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return &domain.TransientError{Err: fmt.Errorf("test service returned %s", resp.Status)}
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("test service returned %s: %s", resp.Status, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// mapState translates the test service's states to job statuses.
func mapState(s string) (domain.JobStatus, error) {
	switch s {
	case "scheduled", "queued":
		return domain.JobStatusQueued, nil
	case "running":
		return domain.JobStatusRunning, nil
	case "passed", "succeeded":
		return domain.JobStatusSucceeded, nil
	case "failed", "errored":
		return domain.JobStatusFailed, nil
	case "canceled", "cancelled":
		return domain.JobStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown pipeline state %q", s)
	}
}
