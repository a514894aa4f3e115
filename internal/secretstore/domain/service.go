package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type StoreRequest struct {
	OrgID      snowflake.ID
	KeyName    string
	SecretType SecretType
	Value      string
	Metadata   map[string]any
	ExpiresAt  *time.Time
}

// Service encrypts secrets at rest. Plaintext is returned only by Retrieve.
type Service interface {
	Store(ctx context.Context, req StoreRequest) (snowflake.ID, error)
	// Retrieve decrypts a secret. A non-zero orgID must match the owner.
	Retrieve(ctx context.Context, orgID, secretID snowflake.ID) (string, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, secret *EncryptedSecret) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*EncryptedSecret, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidKeyName      = errors.New("invalid_key_name")
	ErrInvalidSecretType   = errors.New("invalid_secret_type")
	ErrEmptyValue          = errors.New("empty_secret_value")
	ErrSecretNotFound      = errors.New("secret_not_found")
	ErrSecretExpired       = errors.New("secret_expired")
	ErrDecryptFailed       = errors.New("secret_decrypt_failed")
)
