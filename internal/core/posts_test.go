package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/changetracker"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
)

func newPostOrg(t *testing.T, service *CoreService) (owner, manager, viewer *auth.Session, orgID string) {
	t.Helper()
	ctx := context.Background()
	owner = newSession(t, service, "owner", "USER")
	manager = newSession(t, service, "manager", "USER")
	viewer = newSession(t, service, "viewer", "USER")
	org, err := service.CreateOrganization(ctx, owner, "Acme")
	if err != nil {
		t.Fatalf("CreateOrganization error: %v", err)
	}
	if err := service.AddMember(ctx, owner, org.ID, manager.UserID, "MANAGER"); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if err := service.AddMember(ctx, owner, org.ID, viewer.UserID, "VIEWER"); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	return owner, manager, viewer, org.ID
}

func ptr[T any](v T) *T { return &v }

func TestCreatePost(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	owner, _, viewer, orgID := newPostOrg(t, service)
	before := time.Now().Add(-time.Second)

	draft, err := service.CreatePost(ctx, owner, orgID, CreatePostRequest{AccountID: "ig-1", Caption: "hello", MediaKey: "uploads/owner/a.png"})
	if err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	if draft.Status != database.PostStatusDraft {
		t.Fatalf("status = %s, want DRAFT", draft.Status)
	}

	at := time.Now().Add(time.Hour)
	scheduled, err := service.CreatePost(ctx, owner, orgID, CreatePostRequest{AccountID: "ig-1", MediaKey: "k", ScheduledFor: &at})
	if err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	if scheduled.Status != database.PostStatusScheduled || scheduled.ScheduledFor.IsZero() {
		t.Fatalf("unexpected scheduled post: %+v", scheduled)
	}

	changes := service.PostChanges(owner, before)
	if !changes.Changed || len(changes.PostIDs) != 2 {
		t.Fatalf("unexpected changes: %+v", changes)
	}

	if _, err := service.CreatePost(ctx, viewer, orgID, CreatePostRequest{AccountID: "ig-1", MediaKey: "k"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer CreatePost error = %v, want ErrForbidden", err)
	}
	posts, err := service.ListPosts(ctx, viewer, orgID)
	if err != nil {
		t.Fatalf("viewer ListPosts error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}

	service.ClearPostChanges(owner)
	if service.PostChanges(owner, before).Changed {
		t.Fatalf("changes survived Clear")
	}
}

func TestUpdatePost(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	owner, manager, viewer, orgID := newPostOrg(t, service)

	post, err := service.CreatePost(ctx, owner, orgID, CreatePostRequest{AccountID: "ig-1", Caption: "v1", MediaKey: "k"})
	if err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	service.ClearPostChanges(owner)
	before := time.Now().Add(-time.Second)

	updated, err := service.UpdatePost(ctx, manager, post.ID, UpdatePostRequest{Caption: ptr("v2")})
	if err != nil {
		t.Fatalf("UpdatePost error: %v", err)
	}
	if updated.Caption != "v2" || updated.Status != database.PostStatusDraft {
		t.Fatalf("unexpected post: %+v", updated)
	}
	for _, user := range []*auth.Session{owner, manager} {
		if !service.PostChanges(user, before).Changed {
			t.Errorf("expected %s to see the change", user.UserID)
		}
	}

	at := time.Now().Add(time.Hour)
	updated, err = service.UpdatePost(ctx, manager, post.ID, UpdatePostRequest{ScheduledFor: &at})
	if err != nil {
		t.Fatalf("UpdatePost(schedule) error: %v", err)
	}
	if updated.Status != database.PostStatusScheduled {
		t.Fatalf("status = %s, want SCHEDULED", updated.Status)
	}

	tests := []struct {
		name    string
		session *auth.Session
		id      string
		req     UpdatePostRequest
		wantErr error
	}{
		{"viewer", viewer, post.ID, UpdatePostRequest{Caption: ptr("x")}, ErrForbidden},
		{"missing", owner, "missing", UpdatePostRequest{Caption: ptr("x")}, database.ErrNotFound},
		{"publish by hand", owner, post.ID, UpdatePostRequest{Status: ptr("PUBLISHED")}, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.UpdatePost(ctx, tt.session, tt.id, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	draft, err := service.CreatePost(ctx, owner, orgID, CreatePostRequest{AccountID: "ig-1", MediaKey: "k"})
	if err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	if _, err := service.UpdatePost(ctx, owner, draft.ID, UpdatePostRequest{Status: ptr("scheduled")}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("scheduling without time error = %v, want ErrInvalid", err)
	}

	if claimed, err := service.Database().ClaimPost(ctx, post.ID); err != nil || !claimed {
		t.Fatalf("ClaimPost = %v, %v", claimed, err)
	}
	if _, err := service.UpdatePost(ctx, owner, post.ID, UpdatePostRequest{Status: ptr("DRAFT")}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("unscheduling a post being published error = %v, want ErrInvalid", err)
	}
	if err := service.Database().SetPostStatus(ctx, post.ID, database.PostStatusPublished, "ext-1", "", time.Now()); err != nil {
		t.Fatalf("SetPostStatus error: %v", err)
	}
	if _, err := service.UpdatePost(ctx, owner, post.ID, UpdatePostRequest{Caption: ptr("late")}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("editing a published post error = %v, want ErrInvalid", err)
	}
}

func TestDeletePost(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	owner, _, viewer, orgID := newPostOrg(t, service)

	post, err := service.CreatePost(ctx, owner, orgID, CreatePostRequest{AccountID: "ig-1", MediaKey: "k"})
	if err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	client := service.Tracker().Connect(owner.UserID)
	defer service.Tracker().Disconnect(client)

	if err := service.DeletePost(ctx, viewer, post.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer DeletePost error = %v, want ErrForbidden", err)
	}
	if err := service.DeletePost(ctx, owner, post.ID); err != nil {
		t.Fatalf("DeletePost error: %v", err)
	}

	select {
	case change := <-client.Changes():
		if change.PostID != post.ID || change.Kind != changetracker.KindDeleted {
			t.Fatalf("unexpected change: %+v", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no change delivered to connected client")
	}
	if err := service.DeletePost(ctx, owner, post.ID); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("second DeletePost error = %v, want ErrNotFound", err)
	}
}
