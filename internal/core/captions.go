package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/rbac"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
)

const (
	EventCaptionAdded   = "caption-added"
	EventCaptionMoved   = "caption-moved"
	EventCaptionDeleted = "caption-deleted"
)

type AddCaptionRequest struct {
	Caption string `json:"caption" validate:"required,max=2200"`
}

// MoveCaptionRequest places an item before BeforeID, or last when it is empty.
type MoveCaptionRequest struct {
	BeforeID string `json:"beforeId"`
}

func (service *CoreService) ListCaptions(ctx context.Context, session *auth.Session, orgID string) ([]*database.CaptionItem, error) {
	if err := service.authorize(ctx, session, orgID, rbac.CanViewOrg); err != nil {
		return nil, err
	}
	return service.databaseService.ListCaptions(ctx, orgID)
}

func (service *CoreService) AddCaption(ctx context.Context, session *auth.Session, orgID, caption string) (*database.CaptionItem, error) {
	if strings.TrimSpace(caption) == "" {
		return nil, fmt.Errorf("%w: caption is required", ErrInvalid)
	}
	if err := service.authorize(ctx, session, orgID, rbac.CanManageContent); err != nil {
		return nil, err
	}
	item, err := service.databaseService.AddCaption(ctx, orgID, session.UserID, caption)
	if err != nil {
		return nil, err
	}
	service.notifier.Notify(ctx, realtime.CaptionQueueChannel(orgID), EventCaptionAdded, item)
	return item, nil
}

func (service *CoreService) MoveCaption(ctx context.Context, session *auth.Session, orgID, id, beforeID string) (*database.CaptionItem, error) {
	if err := service.authorize(ctx, session, orgID, rbac.CanManageContent); err != nil {
		return nil, err
	}
	item, err := service.databaseService.MoveCaption(ctx, orgID, id, beforeID)
	if err != nil {
		return nil, err
	}
	service.notifier.Notify(ctx, realtime.CaptionQueueChannel(orgID), EventCaptionMoved, item)
	return item, nil
}

func (service *CoreService) DeleteCaption(ctx context.Context, session *auth.Session, orgID, id string) error {
	if err := service.authorize(ctx, session, orgID, rbac.CanManageContent); err != nil {
		return err
	}
	if err := service.databaseService.DeleteCaption(ctx, orgID, id); err != nil {
		return err
	}
	service.notifier.Notify(ctx, realtime.CaptionQueueChannel(orgID), EventCaptionDeleted, map[string]string{"id": id})
	return nil
}
