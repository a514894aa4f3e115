package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ConnectionType names how a resource is reached from the browser.
type ConnectionType string

const (
	ConnectionWeb   ConnectionType = "web"
	ConnectionRDP   ConnectionType = "rdp"
	ConnectionSSH   ConnectionType = "ssh"
	ConnectionHTML5 ConnectionType = "html5"
)

var connectionTypes = map[ConnectionType]struct{}{
	ConnectionWeb:   {},
	ConnectionRDP:   {},
	ConnectionSSH:   {},
	ConnectionHTML5: {},
}

func ParseConnectionType(raw string) (ConnectionType, error) {
	ct := ConnectionType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := connectionTypes[ct]; !ok {
		return "", ErrInvalidConnectionType
	}
	return ct, nil
}

// Proxied reports whether sessions of this type go through the gateway.
func (c ConnectionType) Proxied() bool {
	return c != ConnectionWeb
}

// DefaultPort returns the conventional port for proxied protocols.
func (c ConnectionType) DefaultPort() int {
	switch c {
	case ConnectionRDP:
		return 3389
	case ConnectionSSH:
		return 22
	default:
		return 0
	}
}

type Resource struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID                `gorm:"column:organization_id;not null;index" json:"organization_id"`
	Name            string                      `gorm:"type:text;not null" json:"name"`
	ConnectionTypes datatypes.JSONSlice[string] `gorm:"column:connection_types" json:"connection_types"`
	Host            string                      `gorm:"type:text" json:"host,omitempty"`
	Port            int                         `json:"port,omitempty"`
	URL             string                      `gorm:"column:url;type:text" json:"url,omitempty"`
	Metadata        datatypes.JSONMap           `json:"metadata"`
	CreatedAt       time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Resource) TableName() string { return "resources" }

func (r Resource) Supports(ct ConnectionType) bool {
	for _, v := range r.ConnectionTypes {
		if ConnectionType(v) == ct {
			return true
		}
	}
	return false
}

type Group struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"column:organization_id;not null;uniqueIndex:ux_access_groups_org_name,priority:1" json:"organization_id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_access_groups_org_name,priority:2" json:"name"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Group) TableName() string { return "access_groups" }

type GroupMember struct {
	GroupID   snowflake.ID `gorm:"primaryKey;column:group_id" json:"group_id"`
	ProfileID snowflake.ID `gorm:"primaryKey;column:profile_id;index" json:"profile_id"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (GroupMember) TableName() string { return "group_members" }

type ResourceGrant struct {
	ResourceID snowflake.ID `gorm:"primaryKey;column:resource_id" json:"resource_id"`
	GroupID    snowflake.ID `gorm:"primaryKey;column:group_id;index" json:"group_id"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (ResourceGrant) TableName() string { return "resource_grants" }
