package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/rbac"
)

// platformRole falls back to USER for sessions whose role was never loaded.
func platformRole(session *auth.Session) rbac.Role {
	role, err := rbac.ParseRole(session.Role)
	if err != nil {
		return rbac.RoleUser
	}
	return role
}

// orgRole returns the caller's role in orgID, NoOrgRole when not a member.
// A missing organization is reported as database.ErrNotFound.
func (service *CoreService) orgRole(ctx context.Context, session *auth.Session, orgID string) (rbac.OrgRole, error) {
	if _, err := service.databaseService.GetOrganization(ctx, orgID); err != nil {
		return rbac.NoOrgRole, err
	}
	role, err := service.databaseService.GetMemberRole(ctx, orgID, session.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return rbac.NoOrgRole, nil
	}
	if err != nil {
		return rbac.NoOrgRole, err
	}
	orgRole, err := rbac.ParseOrgRole(role)
	if err != nil {
		return rbac.NoOrgRole, err
	}
	return orgRole, nil
}

// authorize checks allowed against the caller's roles in orgID.
func (service *CoreService) authorize(ctx context.Context, session *auth.Session, orgID string,
	allowed func(rbac.Role, rbac.OrgRole) bool) error {
	orgRole, err := service.orgRole(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !allowed(platformRole(session), orgRole) {
		return fmt.Errorf("%w: user %s in organization %s", ErrForbidden, session.UserID, orgID)
	}
	return nil
}
