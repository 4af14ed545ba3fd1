package core

import (
	"context"
	"fmt"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/rbac"
)

// Profile is the session user with the organizations they belong to.
type Profile struct {
	User          *database.User           `json:"user"`
	Organizations []*database.Organization `json:"organizations"`
}

func (service *CoreService) Me(ctx context.Context, session *auth.Session) (*Profile, error) {
	user, err := service.databaseService.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	orgs, err := service.databaseService.ListOrganizationsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: user, Organizations: orgs}, nil
}

// CreateOrganization creates an organization owned by the session user.
func (service *CoreService) CreateOrganization(ctx context.Context, session *auth.Session, name string) (*database.Organization, error) {
	org, err := service.databaseService.CreateOrganization(ctx, name, session.UserID)
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (service *CoreService) ListMembers(ctx context.Context, session *auth.Session, orgID string) ([]*database.Member, error) {
	if err := service.authorize(ctx, session, orgID, rbac.CanViewOrg); err != nil {
		return nil, err
	}
	return service.databaseService.ListMembers(ctx, orgID)
}

// AddMember adds userID to orgID or changes their role. Only owners and
// super admins may hand out OWNER or change the role of an owner.
func (service *CoreService) AddMember(ctx context.Context, session *auth.Session, orgID, userID, role string) error {
	orgRole, err := rbac.ParseOrgRole(role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	callerRole, err := service.orgRole(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !rbac.CanManageMembers(platformRole(session), callerRole) {
		return fmt.Errorf("%w: user %s cannot manage members of %s", ErrForbidden, session.UserID, orgID)
	}
	canManageOwners := rbac.CanManageBilling(platformRole(session), callerRole)
	if orgRole == rbac.OrgRoleOwner && !canManageOwners {
		return fmt.Errorf("%w: only owners can add owners", ErrForbidden)
	}
	if _, err := service.databaseService.GetUser(ctx, userID); err != nil {
		return err
	}
	owners, err := service.ownersOf(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if owners.target && !canManageOwners {
		return fmt.Errorf("%w: only owners can change the role of an owner", ErrForbidden)
	}
	if orgRole != rbac.OrgRoleOwner && owners.last() {
		return fmt.Errorf("%w: cannot demote the last owner", ErrInvalid)
	}
	return service.databaseService.AddMember(ctx, orgID, userID, string(orgRole))
}

// RemoveMember removes userID from orgID. Owners can only be removed by owners
// and the last owner cannot be removed.
func (service *CoreService) RemoveMember(ctx context.Context, session *auth.Session, orgID, userID string) error {
	callerRole, err := service.orgRole(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !rbac.CanManageMembers(platformRole(session), callerRole) {
		return fmt.Errorf("%w: user %s cannot manage members of %s", ErrForbidden, session.UserID, orgID)
	}
	owners, err := service.ownersOf(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if owners.target && !rbac.CanManageBilling(platformRole(session), callerRole) {
		return fmt.Errorf("%w: only owners can remove an owner", ErrForbidden)
	}
	if owners.last() {
		return fmt.Errorf("%w: cannot remove the last owner", ErrInvalid)
	}
	return service.databaseService.RemoveMember(ctx, orgID, userID)
}

type ownerCount struct {
	count  int
	target bool
}

func (o ownerCount) last() bool {
	return o.target && o.count == 1
}

// ownersOf counts the owners of orgID and reports whether userID is one of them.
func (service *CoreService) ownersOf(ctx context.Context, orgID, userID string) (ownerCount, error) {
	members, err := service.databaseService.ListMembers(ctx, orgID)
	if err != nil {
		return ownerCount{}, err
	}
	var owners ownerCount
	for _, member := range members {
		if member.Role != string(rbac.OrgRoleOwner) {
			continue
		}
		owners.count++
		if member.UserID == userID {
			owners.target = true
		}
	}
	return owners, nil
}

func (service *CoreService) ListPlans(ctx context.Context) ([]*database.Plan, error) {
	return service.databaseService.ListPlans(ctx)
}

// CreatePlan is reserved to super admins.
func (service *CoreService) CreatePlan(ctx context.Context, session *auth.Session, plan *database.Plan) (*database.Plan, error) {
	if !rbac.IsSuperAdmin(platformRole(session)) {
		return nil, fmt.Errorf("%w: creating plans requires %s", ErrForbidden, rbac.RoleSuperAdmin)
	}
	return service.databaseService.CreatePlan(ctx, plan)
}

// DefaultPlans are seeded by the ops CLI.
var DefaultPlans = []database.Plan{
	{Name: database.DefaultPlan, PriceCents: 0, MonthlyCredits: 50, MaxMembers: 1},
	{Name: "pro", PriceCents: 2900, MonthlyCredits: 1000, MaxMembers: 5},
	{Name: "agency", PriceCents: 9900, MonthlyCredits: 5000, MaxMembers: 25},
}

// SeedPlans inserts the DefaultPlans that do not exist yet and returns how many were added.
func (service *CoreService) SeedPlans(ctx context.Context) (int, error) {
	existing, err := service.databaseService.ListPlans(ctx)
	if err != nil {
		return 0, err
	}
	names := make(map[string]bool, len(existing))
	for _, plan := range existing {
		names[plan.Name] = true
	}
	added := 0
	for _, plan := range DefaultPlans {
		if names[plan.Name] {
			continue
		}
		if _, err := service.databaseService.CreatePlan(ctx, &plan); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
