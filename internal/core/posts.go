package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/changetracker"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/rbac"
)

// CreatePostRequest is the body of POST /api/orgs/:orgId/posts. A post with
// ScheduledFor set starts SCHEDULED, otherwise DRAFT.
type CreatePostRequest struct {
	AccountID    string     `json:"accountId" validate:"required"`
	Caption      string     `json:"caption" validate:"max=2200"`
	MediaKey     string     `json:"mediaKey" validate:"required"`
	ScheduledFor *time.Time `json:"scheduledFor"`
}

// UpdatePostRequest is the body of PATCH /api/posts/:id; absent fields stay unchanged.
type UpdatePostRequest struct {
	AccountID    *string    `json:"accountId"`
	Caption      *string    `json:"caption" validate:"omitempty,max=2200"`
	MediaKey     *string    `json:"mediaKey"`
	Status       *string    `json:"status"`
	ScheduledFor *time.Time `json:"scheduledFor"`
}

func (service *CoreService) ListPosts(ctx context.Context, session *auth.Session, orgID string) ([]*database.Post, error) {
	if err := service.authorize(ctx, session, orgID, rbac.CanViewOrg); err != nil {
		return nil, err
	}
	return service.databaseService.ListPosts(ctx, orgID)
}

func (service *CoreService) CreatePost(ctx context.Context, session *auth.Session, orgID string, req CreatePostRequest) (*database.Post, error) {
	if err := service.authorize(ctx, session, orgID, rbac.CanManageContent); err != nil {
		return nil, err
	}
	post := &database.Post{
		OrgID:     orgID,
		AuthorID:  session.UserID,
		AccountID: req.AccountID,
		Caption:   req.Caption,
		MediaKey:  req.MediaKey,
		Status:    database.PostStatusDraft,
	}
	if req.ScheduledFor != nil && !req.ScheduledFor.IsZero() {
		post.Status = database.PostStatusScheduled
		post.ScheduledFor = req.ScheduledFor.UTC()
	}
	created, err := service.databaseService.CreatePost(ctx, post)
	if err != nil {
		return nil, err
	}
	service.tracker.MarkChanged(ctx, created.AuthorID, created.ID, changetracker.KindCreated)
	return created, nil
}

// UpdatePost edits a post that was not published yet. Setting ScheduledFor
// without a status schedules the post.
func (service *CoreService) UpdatePost(ctx context.Context, session *auth.Session, id string, req UpdatePostRequest) (*database.Post, error) {
	post, err := service.databaseService.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := service.authorize(ctx, session, post.OrgID, rbac.CanManageContent); err != nil {
		return nil, err
	}
	if post.Status == database.PostStatusPublished || post.Status == database.PostStatusPublishing {
		return nil, fmt.Errorf("%w: post %s is already %s", ErrInvalid, id, strings.ToLower(post.Status))
	}

	update := database.PostUpdate{
		Caption:   req.Caption,
		MediaKey:  req.MediaKey,
		AccountID: req.AccountID,
	}
	if req.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*req.Status))
		if status != database.PostStatusDraft && status != database.PostStatusScheduled {
			return nil, fmt.Errorf("%w: status must be %s or %s", ErrInvalid, database.PostStatusDraft, database.PostStatusScheduled)
		}
		update.Status = &status
	}
	if req.ScheduledFor != nil {
		scheduled := req.ScheduledFor.UTC()
		update.ScheduledFor = &scheduled
		if update.Status == nil {
			status := database.PostStatusScheduled
			update.Status = &status
		}
	}
	if update.Status != nil && *update.Status == database.PostStatusScheduled {
		scheduled := post.ScheduledFor
		if update.ScheduledFor != nil {
			scheduled = *update.ScheduledFor
		}
		if scheduled.IsZero() {
			return nil, fmt.Errorf("%w: a scheduled post needs scheduledFor", ErrInvalid)
		}
	}

	updated, err := service.databaseService.UpdatePost(ctx, id, update)
	if err != nil {
		return nil, err
	}
	service.markPostChanged(ctx, session, updated, changetracker.KindUpdated)
	return updated, nil
}

func (service *CoreService) DeletePost(ctx context.Context, session *auth.Session, id string) error {
	post, err := service.databaseService.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if err := service.authorize(ctx, session, post.OrgID, rbac.CanManageContent); err != nil {
		return err
	}
	if err := service.databaseService.DeletePost(ctx, id); err != nil {
		return err
	}
	service.markPostChanged(ctx, session, post, changetracker.KindDeleted)
	return nil
}

// markPostChanged notifies the author and, when someone else edited the post, the editor.
func (service *CoreService) markPostChanged(ctx context.Context, session *auth.Session, post *database.Post, kind string) {
	service.tracker.MarkChanged(ctx, post.AuthorID, post.ID, kind)
	if session.UserID != post.AuthorID {
		service.tracker.MarkChanged(ctx, session.UserID, post.ID, kind)
	}
}

// PostChanges answers the polling endpoint for the session user.
func (service *CoreService) PostChanges(session *auth.Session, since time.Time) changetracker.ChangeSet {
	return service.tracker.ChangedSince(session.UserID, since)
}

func (service *CoreService) ClearPostChanges(session *auth.Session) {
	service.tracker.Clear(session.UserID)
}
