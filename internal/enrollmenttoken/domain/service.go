package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	DefaultExpiresHours = 24
	MaxExpiresHours     = 24 * 30
)

type GenerateRequest struct {
	OrgID        snowflake.ID
	UserID       snowflake.ID
	TokenType    TokenType
	DeviceType   string
	ExpiresHours int
	Metadata     map[string]any
}

type GenerateResult struct {
	TokenID   snowflake.ID `json:"token_id"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type ValidateResult struct {
	IsValid  bool           `json:"is_valid"`
	TokenID  snowflake.ID   `json:"token_id,omitempty"`
	UserID   snowflake.ID   `json:"user_id,omitempty"`
	OrgID    snowflake.ID   `json:"organization_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Validate(ctx context.Context, token string, tokenType TokenType) (*ValidateResult, error)
	MarkUsed(ctx context.Context, orgID, tokenID snowflake.ID) (bool, error)
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *EnrollmentToken) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string, tokenType TokenType) (*EnrollmentToken, error)
	MarkUsed(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error)
	DeleteExpiredBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidTokenType    = errors.New("invalid_token_type")
	ErrInvalidExpiry       = errors.New("invalid_expiry")
	ErrInvalidToken        = errors.New("invalid_token")
)
