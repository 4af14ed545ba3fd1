package rbac

import (
	"fmt"
	"slices"
	"strings"
)

// Role is a platform-wide role of a user.
type Role string

const (
	RoleUser       Role = "USER"
	RoleCreator    Role = "CREATOR"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// OrgRole is the role of a member inside one organization.
type OrgRole string

const (
	OrgRoleViewer  OrgRole = "VIEWER"
	OrgRoleMember  OrgRole = "MEMBER"
	OrgRoleManager OrgRole = "MANAGER"
	OrgRoleAdmin   OrgRole = "ADMIN"
	OrgRoleOwner   OrgRole = "OWNER"
)

// NoOrgRole marks a user that is not a member of the organization.
const NoOrgRole OrgRole = ""

var (
	roles    = []Role{RoleUser, RoleCreator, RoleManager, RoleAdmin, RoleSuperAdmin}
	orgRoles = []OrgRole{OrgRoleViewer, OrgRoleMember, OrgRoleManager, OrgRoleAdmin, OrgRoleOwner}

	contentRoles = []OrgRole{OrgRoleManager, OrgRoleAdmin, OrgRoleOwner}
	memberRoles  = []OrgRole{OrgRoleAdmin, OrgRoleOwner}
)

func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(roles, role) {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

func ParseOrgRole(s string) (OrgRole, error) {
	role := OrgRole(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(orgRoles, role) {
		return "", fmt.Errorf("unknown organization role %q", s)
	}
	return role, nil
}

func IsSuperAdmin(role Role) bool {
	return role == RoleSuperAdmin
}

func IsAdmin(role Role) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

func CanViewOrg(role Role, orgRole OrgRole) bool {
	return IsAdmin(role) || slices.Contains(orgRoles, orgRole)
}

// CanManageContent covers posts, captions and generation jobs of an organization.
func CanManageContent(role Role, orgRole OrgRole) bool {
	return IsAdmin(role) || slices.Contains(contentRoles, orgRole)
}

func CanManageMembers(role Role, orgRole OrgRole) bool {
	return IsAdmin(role) || slices.Contains(memberRoles, orgRole)
}

func CanManageBilling(role Role, orgRole OrgRole) bool {
	return IsSuperAdmin(role) || orgRole == OrgRoleOwner
}
