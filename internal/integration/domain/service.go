package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type UpsertRequest struct {
	OrgID       snowflake.ID
	Provider    Provider
	ExternalID  string
	EndpointURL string
	SecretID    snowflake.ID
	Metadata    map[string]any
}

// Credential is a resolved provider credential. Secret is plaintext and must
// not be logged.
type Credential struct {
	Integration ProviderIntegration
	Secret      string
}

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (*ProviderIntegration, error)
	Get(ctx context.Context, orgID snowflake.ID, provider Provider) (*ProviderIntegration, error)
	List(ctx context.Context, orgID snowflake.ID) ([]ProviderIntegration, error)
}

// CredentialResolver turns an organization into a usable provider credential.
type CredentialResolver interface {
	Resolve(ctx context.Context, orgID snowflake.ID, provider Provider) (*Credential, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, row *ProviderIntegration) error
	Find(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider Provider) (*ProviderIntegration, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]ProviderIntegration, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrNotConfigured       = errors.New("integration_not_configured")
	ErrMissingSecret       = errors.New("integration_missing_secret")
)
