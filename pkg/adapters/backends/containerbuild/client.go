package containerbuild

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
const BackendKind = "container-build"

// Config holds container build service connection configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is a backend adapter for a container image build service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new container build backend client.
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
	BuildID string `json:"build_id"`
	WebURL  string `json:"web_url"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Trigger starts a build job.
func (c *Client) Trigger(ctx context.Context, spec domain.JobSpec) (domain.JobRef, error) {
	body, err := json.Marshal(triggerRequest{
		RunID:     spec.RunID,
		Stage:     spec.Stage,
		Params:    spec.Params,
		TargetEnv: spec.TargetEnv,
	})
	if err != nil {
		return domain.JobRef{}, fmt.Errorf("marshal build request: %w", err)
	}

	var resp triggerResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/builds", body, &resp); err != nil {
		return domain.JobRef{}, err
	}
	if resp.BuildID == "" {
		return domain.JobRef{}, fmt.Errorf("build service returned no build id")
	}

	c.logger.Debug("build triggered",
		zap.String("build_id", resp.BuildID),
		zap.String("run_id", spec.RunID),
		zap.String("stage", spec.Stage))

	return domain.JobRef{Backend: BackendKind, ID: resp.BuildID, Link: resp.WebURL}, nil
}

// Poll fetches the current status of a build job.
func (c *Client) Poll(ctx context.Context, ref domain.JobRef) (domain.JobStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/builds/"+ref.ID, nil, &resp); err != nil {
		return "", err
	}
	return mapStatus(resp.Status)
}

// Cancel stops a build job.
func (c *Client) Cancel(ctx context.Context, ref domain.JobRef) error {
	return c.do(ctx, http.MethodPost, "/api/v1/builds/"+ref.ID+"/cancel", nil, nil)
}

// do performs one HTTP request. Network failures and 5xx responses are
// wrapped as transient so the dispatcher retries them.
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
		return &domain.TransientError{Err: fmt.Errorf("build service returned %s", resp.Status)}
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("build service returned %s: %s", resp.Status, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// mapStatus translates the build service's states to job statuses.
func mapStatus(s string) (domain.JobStatus, error) {
	switch s {
	case "pending", "queued":
		return domain.JobStatusQueued, nil
	case "building", "running":
		return domain.JobStatusRunning, nil
	case "success", "succeeded":
		return domain.JobStatusSucceeded, nil
	case "failed", "error":
		return domain.JobStatusFailed, nil
	case "canceled", "cancelled":
		return domain.JobStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown build status %q", s)
	}
}
