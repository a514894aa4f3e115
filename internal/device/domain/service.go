package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TokenTTL bounds how long a QR enrollment token stays usable.
const TokenTTL = 15 * time.Minute

type GenerateTokenRequest struct {
	OrgID      snowflake.ID
	UserID     snowflake.ID
	Name       string
	DeviceType string
}

type GenerateTokenResult struct {
	DeviceID  snowflake.ID `json:"device_id"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	EnrollURL string       `json:"enroll_url"`
	QRCode    string       `json:"qr_code"`
}

type VerifyRequest struct {
	Token       string
	Fingerprint string
	Attributes  map[string]string
}

type EnrollRequest struct {
	OrgID       snowflake.ID
	UserID      snowflake.ID
	Fingerprint string
	Attributes  map[string]string
	Name        string
	DeviceType  string
}

type ListRequest struct {
	OrgID  snowflake.ID
	UserID snowflake.ID
}

type Service interface {
	GenerateToken(ctx context.Context, req GenerateTokenRequest) (*GenerateTokenResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*Device, error)
	Enroll(ctx context.Context, req EnrollRequest) (*Device, error)
	Status(ctx context.Context, userID, deviceID snowflake.ID) (*Device, error)
	List(ctx context.Context, req ListRequest) ([]Device, error)
	ListEvents(ctx context.Context, orgID, deviceID snowflake.ID) ([]DeviceEvent, error)
	ReEnroll(ctx context.Context, orgID, deviceID snowflake.ID) (*GenerateTokenResult, error)
	Revoke(ctx context.Context, orgID, deviceID snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, device *Device) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Device, error)
	FindPendingByToken(ctx context.Context, db *gorm.DB, tokenHash string) (*Device, error)
	FindByFingerprint(ctx context.Context, db *gorm.DB, userID snowflake.ID, fingerprint string) (*Device, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]Device, error)
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenHash, fingerprint string, now time.Time) (bool, error)
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	ResetToPending(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenHash string, expiresAt, now time.Time) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	InsertEvent(ctx context.Context, db *gorm.DB, event *DeviceEvent) error
	ListEvents(ctx context.Context, db *gorm.DB, orgID, deviceID snowflake.ID) ([]DeviceEvent, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidToken        = errors.New("invalid_token")
	ErrInvalidFingerprint  = errors.New("invalid_fingerprint")
	ErrInvalidOrExpired    = errors.New("invalid or expired enrollment token")
	ErrTokenExpired        = errors.New("token expired")
	ErrNotFound            = errors.New("device_not_found")
)
