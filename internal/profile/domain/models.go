package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Profile is a portal user scoped to one organization.
type Profile struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"column:organization_id;not null;index;uniqueIndex:ux_profiles_org_email,priority:1" json:"organization_id"`
	Email          string       `gorm:"type:text;not null;uniqueIndex:ux_profiles_org_email,priority:2" json:"email"`
	FullName       string       `gorm:"type:text;not null" json:"full_name"`
	Role           Role         `gorm:"type:text;not null" json:"role"`
	ExternalUserID *string      `gorm:"column:external_user_id;type:text" json:"external_user_id,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Profile) TableName() string { return "profiles" }
