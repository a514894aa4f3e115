package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusExpired Status = "expired"
)

// AccessSession is one launch of a resource by a profile. IDs are ULIDs so
// gateway logs sort by launch time.
type AccessSession struct {
	ID             string       `gorm:"primaryKey;type:varchar(26)" json:"id"`
	OrgID          snowflake.ID `gorm:"column:organization_id;not null;index" json:"organization_id"`
	ProfileID      snowflake.ID `gorm:"column:profile_id;not null;index" json:"profile_id"`
	ResourceID     snowflake.ID `gorm:"column:resource_id;not null;index" json:"resource_id"`
	ConnectionType string       `gorm:"type:text;not null" json:"connection_type"`
	Status         Status       `gorm:"type:text;not null;index" json:"status"`
	ExpiresAt      time.Time    `gorm:"not null" json:"expires_at"`
	ConnectedAt    *time.Time   `json:"connected_at,omitempty"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (AccessSession) TableName() string { return "access_sessions" }

// Live reports whether the session can still be used at now.
func (s AccessSession) Live(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiresAt)
}

// Claims are carried by session launch tokens. ID holds the session id and
// Subject the profile id.
type Claims struct {
	OrgID          string `json:"oid"`
	ResourceID     string `json:"rid"`
	ConnectionType string `json:"ct"`
	jwt.RegisteredClaims
}
