package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
)

// RealtimeToken is returned to browsers that subscribe to realtime channels.
type RealtimeToken struct {
	Token     string              `json:"token"`
	ClientID  string              `json:"clientId"`
	ExpiresAt int64               `json:"expiresAt"`
	Channels  realtime.Capability `json:"capability"`
}

// IssueRealtimeToken grants subscribe on the user's own channels and on the
// caption queue of every organization they belong to.
func (service *CoreService) IssueRealtimeToken(ctx context.Context, session *auth.Session) (*RealtimeToken, error) {
	orgIDs, err := service.databaseService.ListMemberOrgIDs(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	channels := []string{
		realtime.GenerationChannel(session.UserID),
		realtime.PostChangesChannel(session.UserID),
	}
	for _, orgID := range orgIDs {
		channels = append(channels, realtime.CaptionQueueChannel(orgID))
	}
	token, claims, err := service.tokens.Issue(session.UserID, channels)
	if err != nil {
		return nil, err
	}
	return &RealtimeToken{
		Token:     token,
		ClientID:  claims.ClientID,
		ExpiresAt: claims.ExpiresAt.UnixMilli(),
		Channels:  claims.Capability,
	}, nil
}

// SubscribeRealtime opens a subscription on channel for the holder of token.
// An unusable token yields realtime.ErrInvalidToken, a token without subscribe
// capability on channel yields ErrForbidden.
func (service *CoreService) SubscribeRealtime(ctx context.Context, token, channel string) (*realtime.Subscription, error) {
	if token == "" {
		return nil, realtime.ErrInvalidToken
	}
	claims, err := service.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if !realtime.ValidChannel(channel) {
		return nil, fmt.Errorf("%w: invalid channel %q", ErrInvalid, channel)
	}
	if !claims.Allows(channel, realtime.OpSubscribe) {
		return nil, fmt.Errorf("%w: token of %s cannot subscribe to %s", ErrForbidden, claims.ClientID, channel)
	}
	sub, err := service.broker.Subscribe(ctx, channel)
	if err != nil {
		if errors.Is(err, realtime.ErrBrokerClosed) {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return nil, err
	}
	return sub, nil
}
