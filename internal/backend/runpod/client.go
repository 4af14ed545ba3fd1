package runpod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
	StatusTimedOut   = "TIMED_OUT"

	DefaultBaseURL = "https://api.runpod.ai"
	defaultTimeout = 30 * time.Second
)

// JobStatus is what the GPU service reports for a job, both from the status
// endpoint and in webhook calls.
type JobStatus struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IsTerminal reports whether the job reached a final state.
func (s *JobStatus) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

type runRequest struct {
	Input   any    `json:"input"`
	Webhook string `json:"webhook,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client submits jobs to serverless GPU endpoints.
type Client struct {
	httpClient *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		// Rate-limited requests were not accepted, so retrying cannot start a job twice.
		AddRetryCondition(func(resp *resty.Response, _ error) bool {
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		}).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{httpClient: client}
}

// Submit starts a job on endpointID and returns the job id assigned by the service.
func (c *Client) Submit(ctx context.Context, endpointID string, input any, webhookURL string) (string, error) {
	var result JobStatus
	var failure errorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("endpoint", endpointID).
		SetBody(runRequest{Input: input, Webhook: webhookURL}).
		SetResult(&result).
		SetError(&failure).
		Post("/v2/{endpoint}/run")
	if err != nil {
		return "", fmt.Errorf("failed to submit job to endpoint %s: %w", endpointID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("endpoint %s rejected job with status %d: %s", endpointID, resp.StatusCode(), failure.Error)
	}
	if result.ID == "" {
		return "", fmt.Errorf("endpoint %s returned no job id", endpointID)
	}

	slog.Info("submitted gpu job", "endpoint", endpointID, "external_id", result.ID, "status", result.Status)
	return result.ID, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, endpointID, externalID string) (*JobStatus, error) {
	var result JobStatus
	var failure errorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"endpoint": endpointID, "id": externalID}).
		SetResult(&result).
		SetError(&failure).
		Get("/v2/{endpoint}/status/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to get status of job %s: %w", externalID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status of job %s failed with status %d: %s", externalID, resp.StatusCode(), failure.Error)
	}
	return &result, nil
}
