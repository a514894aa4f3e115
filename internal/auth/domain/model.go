package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
)

// Principal is the authenticated caller of an API request.
type Principal struct {
	ProfileID snowflake.ID
	OrgID     snowflake.ID
	Role      profiledomain.Role
	Email     string
}

// Subject returns the casbin subject for the principal.
func (p Principal) Subject() string {
	return "profile:" + p.ProfileID.String()
}

// CanAdminister reports whether the principal may manage orgID. Global
// admins manage every organization; other admin roles only their own.
func (p Principal) CanAdminister(orgID snowflake.ID) bool {
	if !profiledomain.CanAccessAdmin(p.Role) {
		return false
	}
	return p.Role.IsGlobal() || p.OrgID == orgID
}

// Claims are carried by portal bearer tokens. Subject holds the profile id.
type Claims struct {
	OrgID string `json:"oid"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
