package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SecretType string

const (
	SecretTypeAPIKey      SecretType = "api_key"
	SecretTypeToken       SecretType = "token"
	SecretTypePassword    SecretType = "password"
	SecretTypeCertificate SecretType = "certificate"
)

func (t SecretType) Valid() bool {
	switch t {
	case SecretTypeAPIKey, SecretTypeToken, SecretTypePassword, SecretTypeCertificate:
		return true
	default:
		return false
	}
}

// EncryptedSecret holds ciphertext only. Callers reference it by ID.
type EncryptedSecret struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"column:organization_id;not null;index" json:"organization_id"`
	KeyName        string            `gorm:"type:text;not null" json:"key_name"`
	SecretType     SecretType        `gorm:"type:text;not null" json:"secret_type"`
	EncryptedValue datatypes.JSON    `gorm:"not null" json:"-"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
}

func (EncryptedSecret) TableName() string { return "encrypted_secrets" }
