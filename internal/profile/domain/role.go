package domain

import "strings"

// Role is the closed set of portal roles.
type Role string

const (
	RoleUser        Role = "user"
	RoleSupport     Role = "support"
	RoleOrgAdmin    Role = "org_admin"
	RoleGlobalAdmin Role = "global_admin"
)

var roles = map[Role]struct{}{
	RoleUser:        {},
	RoleSupport:     {},
	RoleOrgAdmin:    {},
	RoleGlobalAdmin: {},
}

// ParseRole normalizes raw input into a known role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roles[role]; !ok {
		return "", ErrInvalidRole
	}
	return role, nil
}

func (r Role) Valid() bool {
	_, ok := roles[r]
	return ok
}

// CanAccessAdmin reports whether the role may use the admin surface.
func CanAccessAdmin(role Role) bool {
	switch role {
	case RoleSupport, RoleOrgAdmin, RoleGlobalAdmin:
		return true
	default:
		return false
	}
}

// IsGlobal reports whether the role spans organizations.
func (r Role) IsGlobal() bool {
	return r == RoleGlobalAdmin
}
