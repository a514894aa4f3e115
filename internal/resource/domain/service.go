package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateResourceRequest struct {
	OrgID           snowflake.ID     `json:"-"`
	Name            string           `json:"name"`
	ConnectionTypes []ConnectionType `json:"connection_types"`
	Host            string           `json:"host"`
	Port            int              `json:"port"`
	URL             string           `json:"url"`
	Metadata        map[string]any   `json:"metadata"`
}

type UpdateResourceRequest struct {
	OrgID           snowflake.ID     `json:"-"`
	ID              snowflake.ID     `json:"-"`
	Name            *string          `json:"name"`
	ConnectionTypes []ConnectionType `json:"connection_types"`
	Host            *string          `json:"host"`
	Port            *int             `json:"port"`
	URL             *string          `json:"url"`
	Metadata        map[string]any   `json:"metadata"`
}

type Service interface {
	CreateResource(ctx context.Context, req CreateResourceRequest) (*Resource, error)
	GetResource(ctx context.Context, orgID, id snowflake.ID) (*Resource, error)
	ListResources(ctx context.Context, orgID snowflake.ID) ([]Resource, error)
	UpdateResource(ctx context.Context, req UpdateResourceRequest) (*Resource, error)
	DeleteResource(ctx context.Context, orgID, id snowflake.ID) error

	CreateGroup(ctx context.Context, orgID snowflake.ID, name string) (*Group, error)
	ListGroups(ctx context.Context, orgID snowflake.ID) ([]Group, error)
	DeleteGroup(ctx context.Context, orgID, id snowflake.ID) error
	AddMember(ctx context.Context, orgID, groupID, profileID snowflake.ID) error
	RemoveMember(ctx context.Context, orgID, groupID, profileID snowflake.ID) error
	ListMembers(ctx context.Context, orgID, groupID snowflake.ID) ([]GroupMember, error)

	Grant(ctx context.Context, orgID, resourceID, groupID snowflake.ID) error
	RevokeGrant(ctx context.Context, orgID, resourceID, groupID snowflake.ID) error

	HasAccess(ctx context.Context, profileID, resourceID snowflake.ID) (bool, error)
	ListAccessible(ctx context.Context, orgID, profileID snowflake.ID) ([]Resource, error)
}

type Repository interface {
	InsertResource(ctx context.Context, db *gorm.DB, r *Resource) error
	FindResource(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Resource, error)
	ListResources(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Resource, error)
	SaveResource(ctx context.Context, db *gorm.DB, r *Resource) error
	DeleteResource(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	InsertGroup(ctx context.Context, db *gorm.DB, g *Group) error
	FindGroup(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Group, error)
	ListGroups(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Group, error)
	DeleteGroup(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	AddMember(ctx context.Context, db *gorm.DB, m *GroupMember) error
	RemoveMember(ctx context.Context, db *gorm.DB, groupID, profileID snowflake.ID) error
	ListMembers(ctx context.Context, db *gorm.DB, groupID snowflake.ID) ([]GroupMember, error)

	AddGrant(ctx context.Context, db *gorm.DB, g *ResourceGrant) error
	RemoveGrant(ctx context.Context, db *gorm.DB, resourceID, groupID snowflake.ID) error

	CountGrantsForProfile(ctx context.Context, db *gorm.DB, profileID, resourceID snowflake.ID) (int64, error)
	ListGrantedResources(ctx context.Context, db *gorm.DB, orgID, profileID snowflake.ID) ([]Resource, error)
}

var (
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidConnectionType = errors.New("invalid_connection_type")
	ErrInvalidHost           = errors.New("invalid_host")
	ErrInvalidURL            = errors.New("invalid_url")
	ErrInvalidPort           = errors.New("invalid_port")
	ErrNotFound              = errors.New("resource_not_found")
	ErrGroupNotFound         = errors.New("group_not_found")
	ErrGroupExists           = errors.New("group_exists")
	ErrProfileNotFound       = errors.New("profile_not_found")
)
