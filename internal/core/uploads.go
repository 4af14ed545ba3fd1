package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/storage"
)

type PresignUploadRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required"`
}

type PresignedUpload struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresAt int64  `json:"expiresAt"`
}

// PresignUpload hands out a URL the browser can PUT one media file to.
func (service *CoreService) PresignUpload(ctx context.Context, session *auth.Session, req PresignUploadRequest) (*PresignedUpload, error) {
	if !storage.AllowedUploadType(req.ContentType) {
		return nil, fmt.Errorf("%w: content type %q is not allowed", ErrInvalid, req.ContentType)
	}
	key := storage.UploadKey(session.UserID, req.Filename)
	ttl := service.presignTTL()
	expiresAt := service.now().Add(ttl)
	url, err := service.objects.PresignPut(ctx, key, req.ContentType, ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &PresignedUpload{URL: url, Key: key, ExpiresAt: expiresAt.UnixMilli()}, nil
}

// MediaURL returns a time-limited download URL for a stored key.
func (service *CoreService) MediaURL(ctx context.Context, key string) (string, time.Time, error) {
	ttl := service.presignTTL()
	url, err := service.objects.PresignGet(ctx, key, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return url, service.now().Add(ttl), nil
}
