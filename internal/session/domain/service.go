package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
	"gorm.io/gorm"
)

type LaunchRequest struct {
	Principal      authdomain.Principal          `json:"-"`
	ResourceID     snowflake.ID                  `json:"resource_id"`
	ConnectionType resourcedomain.ConnectionType `json:"connection_type"`
}

type LaunchResult struct {
	SessionID      string    `json:"session_id"`
	URL            string    `json:"url"`
	Token          string    `json:"token"`
	ConnectionType string    `json:"connection_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type Service interface {
	Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error)
	Validate(ctx context.Context, token string) (*AccessSession, error)
	End(ctx context.Context, principal authdomain.Principal, sessionID string) (*AccessSession, error)
	Get(ctx context.Context, principal authdomain.Principal, sessionID string) (*AccessSession, error)
	ListActive(ctx context.Context, orgID, profileID snowflake.ID) ([]AccessSession, error)
	WaitReady(ctx context.Context, sessionID string) (*AccessSession, error)
	ExpireStale(ctx context.Context) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, s *AccessSession) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*AccessSession, error)
	MarkConnected(ctx context.Context, db *gorm.DB, id string, now time.Time) error
	Finish(ctx context.Context, db *gorm.DB, id string, status Status, now time.Time) (bool, error)
	ListActive(ctx context.Context, db *gorm.DB, orgID, profileID snowflake.ID) ([]AccessSession, error)
	ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

var (
	ErrNotFound              = errors.New("session_not_found")
	ErrAccessDenied          = errors.New("access_denied")
	ErrUnsupportedConnection = errors.New("unsupported_connection_type")
	ErrGatewayNotConfigured  = errors.New("gateway_not_configured")
	ErrInvalidToken          = errors.New("invalid_session_token")
	ErrSessionEnded          = errors.New("session_ended")
	ErrSessionExpired        = errors.New("session_expired")
)
