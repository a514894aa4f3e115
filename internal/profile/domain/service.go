package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateProfileRequest struct {
	OrgID          snowflake.ID
	Email          string
	FullName       string
	Role           Role
	ExternalUserID string
}

type Service interface {
	Create(ctx context.Context, req CreateProfileRequest) (*Profile, error)
	Get(ctx context.Context, id snowflake.ID) (*Profile, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID) ([]Profile, error)
	UpdateRole(ctx context.Context, orgID, id snowflake.ID, role Role) (*Profile, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, profile *Profile) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Profile, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Profile, error)
	UpdateRole(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, role Role) (int64, error)
}

var (
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrProfileExists       = errors.New("profile_exists")
	ErrNotFound            = errors.New("profile_not_found")
)
