package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
)

const DefaultGraphURL = "https://graph.facebook.com/v19.0"

// Poster publishes a post to its social account and returns the id the network
// assigned to it. mediaURL is a publicly readable URL of the post media or empty.
type Poster interface {
	Publish(ctx context.Context, post *database.Post, mediaURL string) (string, error)
}

type graphID struct {
	ID string `json:"id"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// GraphPoster publishes through the two-step container flow of the graph API:
// create a media container, then publish it.
type GraphPoster struct {
	httpClient *resty.Client
}

func NewGraphPoster(baseURL, accessToken string, timeout time.Duration) *GraphPoster {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetQueryParam("access_token", accessToken).
		SetHeader("Accept", "application/json")
	return &GraphPoster{httpClient: client}
}

func (p *GraphPoster) Publish(ctx context.Context, post *database.Post, mediaURL string) (string, error) {
	if post.AccountID == "" {
		return "", fmt.Errorf("post %s has no account", post.ID)
	}
	if mediaURL == "" {
		return "", fmt.Errorf("post %s has no media", post.ID)
	}

	var container graphID
	if err := p.post(ctx, "/{account}/media", post.AccountID, map[string]string{
		"image_url": mediaURL,
		"caption":   post.Caption,
	}, &container); err != nil {
		return "", fmt.Errorf("failed to create media container: %w", err)
	}

	var published graphID
	if err := p.post(ctx, "/{account}/media_publish", post.AccountID, map[string]string{
		"creation_id": container.ID,
	}, &published); err != nil {
		return "", fmt.Errorf("failed to publish media container %s: %w", container.ID, err)
	}
	return published.ID, nil
}

func (p *GraphPoster) post(ctx context.Context, path, accountID string, form map[string]string, result *graphID) error {
	var failure graphError
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetPathParam("account", accountID).
		SetFormData(form).
		SetResult(result).
		SetError(&failure).
		Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("graph api returned status %d: %s", resp.StatusCode(), failure.Error.Message)
	}
	if result.ID == "" {
		return fmt.Errorf("graph api returned no id")
	}
	return nil
}

// LogPoster only logs posts. It is used when no graph API token is configured.
type LogPoster struct{}

func (LogPoster) Publish(_ context.Context, post *database.Post, mediaURL string) (string, error) {
	id := "log-" + uuid.NewString()
	slog.Info("publishing post (log only)",
		"post", post.ID, "account", post.AccountID, "media_url", mediaURL, "external_id", id)
	return id, nil
}
