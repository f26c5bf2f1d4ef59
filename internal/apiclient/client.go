// Package apiclient provides an HTTP client for the dashboard backend API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mecanolabs/jarvis-console/internal/event"
)

// Client is an HTTP client for the backend's universe and worker endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new backend client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// UniversesResponse is the snapshot-style poll response: the current list
// of universes with embedded agents.
type UniversesResponse struct {
	Universes []*event.Universe `json:"universes"`
}

// LaunchRequest describes a task to launch as a new universe.
type LaunchRequest struct {
	Description string `json:"description"`
	Name        string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	Model       string `json:"model,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// LaunchResponse identifies the launched universe plus worker routing
// metadata. The metadata is opaque to the reconciliation core and is only
// forwarded into the finalized snapshot for display.
type LaunchResponse struct {
	UniverseID    string `json:"universe_id"`
	WorkerID      string `json:"worker_id,omitempty"`
	WorkerName    string `json:"worker_name,omitempty"`
	WorkerAddress string `json:"worker_address,omitempty"`
}

// Worker is a registered worker as reported by the backend registry.
type Worker struct {
	ID            string `json:"id"`
	Hostname      string `json:"hostname"`
	WorkerName    string `json:"worker_name,omitempty"`
	WorkerAddress string `json:"worker_address,omitempty"`
	Status        string `json:"status"`
	CurrentJobs   int    `json:"current_jobs"`
	MaxJobs       int    `json:"max_concurrent_jobs"`
}

// ErrorResponse represents an error response from the backend.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListUniverses calls GET /api/universes on the backend.
func (c *Client) ListUniverses(ctx context.Context) ([]*event.Universe, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/universes", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to list universes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var listResp UniversesResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("failed to decode universes response: %w", err)
	}

	return listResp.Universes, nil
}

// GetUniverse fetches the current list and locates one universe by id.
// Returns nil without error when the backend does not know the id.
func (c *Client) GetUniverse(ctx context.Context, universeID string) (*event.Universe, error) {
	universes, err := c.ListUniverses(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range universes {
		if u.UniverseID == universeID {
			return u, nil
		}
	}
	return nil, nil
}

// LaunchTask calls POST /api/tasks/launch on the backend. The returned
// universe id becomes the run tracker's target.
func (c *Client) LaunchTask(ctx context.Context, req *LaunchRequest) (*LaunchResponse, error) {
	if req.Description == "" {
		return nil, fmt.Errorf("description is required")
	}
	if req.RequestID == "" {
		req.RequestID = "req_" + uuid.New().String()[:8]
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/tasks/launch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to launch task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var launchResp LaunchResponse
	if err := json.NewDecoder(resp.Body).Decode(&launchResp); err != nil {
		return nil, fmt.Errorf("failed to decode launch response: %w", err)
	}
	if launchResp.UniverseID == "" {
		return nil, fmt.Errorf("launch response missing universe_id")
	}

	return &launchResp, nil
}

// ListWorkers calls GET /api/workers on the backend registry.
func (c *Client) ListWorkers(ctx context.Context) ([]*Worker, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/workers", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var workers []*Worker
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		return nil, fmt.Errorf("failed to decode workers response: %w", err)
	}

	return workers, nil
}

func decodeError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	var errResp ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("backend error: %s", errResp.Error)
	}
	return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
}
