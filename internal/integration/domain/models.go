package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Provider string

const (
	ProviderTailscale Provider = "tailscale"
	ProviderZitadel   Provider = "zitadel"
	ProviderGCP       Provider = "gcp"
	ProviderLXD       Provider = "lxd"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderTailscale, ProviderZitadel, ProviderGCP, ProviderLXD:
		return true
	default:
		return false
	}
}

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// ProviderIntegration links an organization to one external provider. The
// credential lives in the secret store and is referenced by SecretID only.
type ProviderIntegration struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"column:organization_id;not null;uniqueIndex:ux_provider_integrations_org_provider,priority:1" json:"organization_id"`
	Provider    Provider          `gorm:"type:text;not null;uniqueIndex:ux_provider_integrations_org_provider,priority:2" json:"provider"`
	ExternalID  string            `gorm:"type:text" json:"external_id"`
	EndpointURL string            `gorm:"type:text" json:"endpoint_url"`
	SecretID    *snowflake.ID     `gorm:"column:secret_id" json:"secret_id,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	Status      string            `gorm:"type:text;not null" json:"status"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}

func (ProviderIntegration) TableName() string { return "provider_integrations" }
