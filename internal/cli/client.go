package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// Client is a thin REST wrapper over a fyreflowd instance's internal/httpapi
// surface. It carries no retry or circuit-breaking logic: the CLI is a
// one-shot or short-poll caller, not a long-lived service client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://localhost:8080"),
// sending token as a bearer credential when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for any non-2xx response; Message and Details mirror
// internal/httpapi's errorEnvelope.
type APIError struct {
	Status  int
	Message string
	Details any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error   string `json:"error"`
			Details any    `json:"details"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &APIError{Status: resp.StatusCode, Message: envelope.Error, Details: envelope.Details}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListPipelines returns every stored flow.
func (c *Client) ListPipelines(ctx context.Context) ([]*flow.Flow, error) {
	var out []*flow.Flow
	err := c.do(ctx, http.MethodGet, "/api/pipelines", nil, &out)
	return out, err
}

// StartRunRequest mirrors internal/httpapi's createRunRequest wire shape.
type StartRunRequest struct {
	Task     string            `json:"task"`
	Inputs   map[string]string `json:"inputs,omitempty"`
	Scenario string            `json:"scenario,omitempty"`
}

// StartRun starts a run of pipelineID.
func (c *Client) StartRun(ctx context.Context, pipelineID string, req StartRunRequest) (*run.Run, error) {
	var out run.Run
	err := c.do(ctx, http.MethodPost, "/api/pipelines/"+pipelineID+"/runs", req, &out)
	return &out, err
}

// ListRuns returns every run the daemon's store knows about.
func (c *Client) ListRuns(ctx context.Context) ([]*run.Run, error) {
	var out []*run.Run
	err := c.do(ctx, http.MethodGet, "/api/runs", nil, &out)
	return out, err
}

// GetRun fetches one run's current state.
func (c *Client) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	var out run.Run
	err := c.do(ctx, http.MethodGet, "/api/runs/"+runID, nil, &out)
	return &out, err
}

// StopRun requests cancellation of a live run.
func (c *Client) StopRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/api/runs/"+runID+"/stop", nil, nil)
}

// PauseRun requests a live run pause at its next safe checkpoint.
func (c *Client) PauseRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/api/runs/"+runID+"/pause", nil, nil)
}

// ResumeRun resumes a paused live run.
func (c *Client) ResumeRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/api/runs/"+runID+"/resume", nil, nil)
}

// ResolveApprovalRequest mirrors internal/httpapi's resolveApprovalRequest.
type ResolveApprovalRequest struct {
	Decision run.ApprovalStatus `json:"decision"`
	Note     string             `json:"note,omitempty"`
}

// ResolveApproval records a human decision on a pending approval gate.
func (c *Client) ResolveApproval(ctx context.Context, runID, approvalID string, req ResolveApprovalRequest) error {
	return c.do(ctx, http.MethodPost, "/api/runs/"+runID+"/approvals/"+approvalID, req, nil)
}
