package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TokenType string

const (
	TokenTypeTailscale  TokenType = "tailscale"
	TokenTypeDevice     TokenType = "device"
	TokenTypeInvitation TokenType = "invitation"
)

func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeTailscale, TokenTypeDevice, TokenTypeInvitation:
		return true
	default:
		return false
	}
}

// EnrollmentToken stores only the hash of the issued token.
type EnrollmentToken struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"column:organization_id;not null;index" json:"organization_id"`
	UserID     snowflake.ID      `gorm:"column:user_id;not null;index" json:"user_id"`
	TokenType  TokenType         `gorm:"type:text;not null" json:"token_type"`
	DeviceType *string           `gorm:"type:text" json:"device_type,omitempty"`
	TokenHash  string            `gorm:"type:text;not null;uniqueIndex:ux_enrollment_tokens_hash" json:"-"`
	ExpiresAt  time.Time         `gorm:"not null" json:"expires_at"`
	UsedAt     *time.Time        `json:"used_at,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (EnrollmentToken) TableName() string { return "enrollment_tokens" }

// Valid reports whether the token can still be consumed at now.
func (t EnrollmentToken) Valid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
