package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
)

// ExpiresHours bounds how long an emailed invitation link stays usable.
const ExpiresHours = 72

type InviteRequest struct {
	OrgID    snowflake.ID       `json:"-"`
	Email    string             `json:"email"`
	FullName string             `json:"full_name"`
	Role     profiledomain.Role `json:"role"`
}

type BatchInviteRequest struct {
	OrgID       snowflake.ID    `json:"-"`
	Invitations []InviteRequest `json:"invitations"`
}

type InviteResult struct {
	ProfileID snowflake.ID `json:"profile_id"`
	TokenID   snowflake.ID `json:"token_id"`
	Email     string       `json:"email"`
	ExpiresAt time.Time    `json:"expires_at"`
	EmailSent bool         `json:"email_sent"`
}

type BatchInviteResult struct {
	Invited []InviteResult `json:"invited"`
	Failed  []InviteError  `json:"failed,omitempty"`
}

type InviteError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

type AcceptResult struct {
	Profile *profiledomain.Profile  `json:"profile"`
	Token   *authdomain.IssuedToken `json:"token"`
}
