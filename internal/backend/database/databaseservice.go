package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidArgument is returned when a request can never succeed as given.
var ErrInvalidArgument = errors.New("invalid argument")

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	UpsertUser(ctx context.Context, id, email, defaultRole string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	SetUserRole(ctx context.Context, id, role string) error

	// CreateOrganization inserts the organization and its OWNER membership in one transaction.
	CreateOrganization(ctx context.Context, name, ownerID string) (*Organization, error)
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationByCustomer(ctx context.Context, customerID string) (*Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]*Organization, error)
	UpdateSubscription(ctx context.Context, orgID, plan, status, customerID, subscriptionID string) error

	AddMember(ctx context.Context, orgID, userID, role string) error
	GetMemberRole(ctx context.Context, orgID, userID string) (string, error)
	ListMembers(ctx context.Context, orgID string) ([]*Member, error)
	ListMemberOrgIDs(ctx context.Context, userID string) ([]string, error)
	RemoveMember(ctx context.Context, orgID, userID string) error

	CreatePlan(ctx context.Context, plan *Plan) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)

	CreateJob(ctx context.Context, job *GenerationJob) (*GenerationJob, error)
	GetJob(ctx context.Context, id string) (*GenerationJob, error)
	ListJobsForUser(ctx context.Context, userID string, limit int) ([]*GenerationJob, error)
	SetJobSubmitted(ctx context.Context, id, externalID string) error
	// CompleteJob moves a non-terminal job into a terminal state. It returns false when the
	// job was already terminal and nothing changed.
	CompleteJob(ctx context.Context, id string, result JobResult) (bool, error)
	ListStaleJobs(ctx context.Context, submittedBefore time.Time, limit int) ([]*GenerationJob, error)

	CreatePost(ctx context.Context, post *Post) (*Post, error)
	GetPost(ctx context.Context, id string) (*Post, error)
	ListPosts(ctx context.Context, orgID string) ([]*Post, error)
	UpdatePost(ctx context.Context, id string, update PostUpdate) (*Post, error)
	DeletePost(ctx context.Context, id string) error
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]*Post, error)
	ClaimPost(ctx context.Context, id string) (bool, error)
	SetPostStatus(ctx context.Context, id, status, externalID, errMsg string, publishedAt time.Time) error

	AddCaption(ctx context.Context, orgID, authorID, caption string) (*CaptionItem, error)
	ListCaptions(ctx context.Context, orgID string) ([]*CaptionItem, error)
	// MoveCaption places the item directly before beforeID, or last when beforeID is empty.
	MoveCaption(ctx context.Context, orgID, id, beforeID string) (*CaptionItem, error)
	DeleteCaption(ctx context.Context, orgID, id string) error
}
