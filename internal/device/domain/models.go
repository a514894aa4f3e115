package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusOffline     Status = "offline"
	StatusCompromised Status = "compromised"
)

type TrustLevel string

const (
	TrustLow    TrustLevel = "low"
	TrustMedium TrustLevel = "medium"
	TrustHigh   TrustLevel = "high"
)

// Device is one browser or OS installation bound to a user.
//
// EnrollmentToken stores the hash of the outstanding token while pending.
type Device struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID          snowflake.ID      `gorm:"column:user_id;not null;index;uniqueIndex:ux_devices_user_fingerprint,priority:1" json:"user_id"`
	OrgID           snowflake.ID      `gorm:"column:organization_id;not null;index" json:"organization_id"`
	Name            string            `gorm:"type:text" json:"name"`
	DeviceType      string            `gorm:"type:text" json:"device_type"`
	Fingerprint     *string           `gorm:"type:text;uniqueIndex:ux_devices_user_fingerprint,priority:2" json:"fingerprint,omitempty"`
	Status          Status            `gorm:"type:text;not null" json:"status"`
	TrustLevel      TrustLevel        `gorm:"type:text;not null" json:"trust_level"`
	EnrollmentToken *string           `gorm:"type:text;index" json:"-"`
	TokenExpiresAt  *time.Time        `json:"token_expires_at,omitempty"`
	EnrolledAt      *time.Time        `json:"enrolled_at,omitempty"`
	LastSeen        *time.Time        `json:"last_seen,omitempty"`
	Metadata        datatypes.JSONMap `json:"metadata"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null" json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// DeviceEvent is the per-device history shown to administrators.
type DeviceEvent struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	DeviceID  snowflake.ID      `gorm:"column:device_id;not null;index" json:"device_id"`
	OrgID     snowflake.ID      `gorm:"column:organization_id;not null;index" json:"organization_id"`
	EventType string            `gorm:"type:text;not null" json:"event_type"`
	Details   datatypes.JSONMap `json:"details"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

func (DeviceEvent) TableName() string { return "device_events" }

const (
	EventTokenIssued    = "device.token_issued"
	EventVerified       = "device.verified"
	EventSilentEnrolled = "device.silent_enrolled"
	EventReEnrolled     = "device.re_enrolled"
	EventRevoked        = "device.revoked"
)
