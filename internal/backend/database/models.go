package database

import (
	"encoding/json"
	"time"
)

const (
	JobStatusPending   = "PENDING"
	JobStatusSubmitted = "SUBMITTED"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

const (
	PostStatusDraft      = "DRAFT"
	PostStatusScheduled  = "SCHEDULED"
	PostStatusPublishing = "PUBLISHING"
	PostStatusPublished  = "PUBLISHED"
	PostStatusFailed     = "FAILED"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Organization is a tenant. Personal workspaces are organizations with a single OWNER.
type Organization struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Slug                 string    `json:"slug"`
	Plan                 string    `json:"plan"`
	SubscriptionStatus   string    `json:"subscriptionStatus"`
	StripeCustomerID     string    `json:"-"`
	StripeSubscriptionID string    `json:"-"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type Member struct {
	OrgID     string    `json:"orgId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type Plan struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PriceCents     int64     `json:"priceCents"`
	MonthlyCredits int64     `json:"monthlyCredits"`
	MaxMembers     int64     `json:"maxMembers"`
	CreatedAt      time.Time `json:"createdAt"`
}

type GenerationJob struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	OrgID        string          `json:"orgId,omitempty"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Prompt       string          `json:"prompt"`
	Params       json.RawMessage `json:"params,omitempty"`
	ExternalID   string          `json:"externalId,omitempty"`
	OutputKey    string          `json:"outputKey,omitempty"`
	ThumbnailKey string          `json:"thumbnailKey,omitempty"`
	OutputURL    string          `json:"outputUrl,omitempty"`
	Error        string          `json:"error,omitempty"`
	SubmittedAt  time.Time       `json:"submittedAt,omitzero"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsTerminal reports whether the job will not change status again.
func (j *GenerationJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobResult carries the outcome reported for a submitted job.
type JobResult struct {
	Status       string
	OutputKey    string
	ThumbnailKey string
	OutputURL    string
	Error        string
}

// Post is a social media post scheduled for an account of an organization.
type Post struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"orgId"`
	AuthorID     string    `json:"authorId"`
	AccountID    string    `json:"accountId"`
	Caption      string    `json:"caption"`
	MediaKey     string    `json:"mediaKey"`
	Status       string    `json:"status"`
	ScheduledFor time.Time `json:"scheduledFor,omitzero"`
	PublishedAt  time.Time `json:"publishedAt,omitzero"`
	ExternalID   string    `json:"externalId,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PostUpdate holds optional changes; nil fields are left untouched.
type PostUpdate struct {
	Caption      *string
	MediaKey     *string
	AccountID    *string
	Status       *string
	ScheduledFor *time.Time
}

type CaptionItem struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	AuthorID  string    `json:"authorId"`
	Caption   string    `json:"caption"`
	Rank      string    `json:"rank"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
