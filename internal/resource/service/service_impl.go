package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/resource/domain"
	"github.com/smallbiznis/accessportal/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock           `optional:"true"`
	Profiles profiledomain.Service `optional:"true"`
	AuditSvc auditdomain.Service   `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	profiles profiledomain.Service
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("resource.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    clk,
		profiles: p.Profiles,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreateResource(ctx context.Context, req domain.CreateResourceRequest) (*domain.Resource, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	res := &domain.Resource{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		Name:      strings.TrimSpace(req.Name),
		Host:      strings.TrimSpace(req.Host),
		Port:      req.Port,
		URL:       strings.TrimSpace(req.URL),
		Metadata:  datatypes.JSONMap(req.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	types, err := normalizeConnectionTypes(req.ConnectionTypes)
	if err != nil {
		return nil, err
	}
	res.ConnectionTypes = types
	if err := validateResource(res); err != nil {
		return nil, err
	}

	if err := s.repo.InsertResource(ctx, s.db, res); err != nil {
		return nil, err
	}

	s.log.Info("resource created",
		zap.String("resource_id", res.ID.String()),
		zap.String("org_id", res.OrgID.String()),
		zap.Strings("connection_types", res.ConnectionTypes),
	)
	s.audit(ctx, res.OrgID, "resource.created", "resource", res.ID, map[string]any{"name": res.Name})
	return res, nil
}

func (s *Service) GetResource(ctx context.Context, orgID, id snowflake.ID) (*domain.Resource, error) {
	res, err := s.repo.FindResource(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if res == nil || (orgID != 0 && res.OrgID != orgID) {
		return nil, domain.ErrNotFound
	}
	return res, nil
}

func (s *Service) ListResources(ctx context.Context, orgID snowflake.ID) ([]domain.Resource, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListResources(ctx, s.db, orgID)
}

func (s *Service) UpdateResource(ctx context.Context, req domain.UpdateResourceRequest) (*domain.Resource, error) {
	res, err := s.GetResource(ctx, req.OrgID, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		res.Name = strings.TrimSpace(*req.Name)
	}
	if req.ConnectionTypes != nil {
		types, err := normalizeConnectionTypes(req.ConnectionTypes)
		if err != nil {
			return nil, err
		}
		res.ConnectionTypes = types
	}
	if req.Host != nil {
		res.Host = strings.TrimSpace(*req.Host)
	}
	if req.Port != nil {
		res.Port = *req.Port
	}
	if req.URL != nil {
		res.URL = strings.TrimSpace(*req.URL)
	}
	if req.Metadata != nil {
		res.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := validateResource(res); err != nil {
		return nil, err
	}
	res.UpdatedAt = s.clock.Now()

	if err := s.repo.SaveResource(ctx, s.db, res); err != nil {
		return nil, err
	}
	s.audit(ctx, res.OrgID, "resource.updated", "resource", res.ID, nil)
	return res, nil
}

func (s *Service) DeleteResource(ctx context.Context, orgID, id snowflake.ID) error {
	res, err := s.GetResource(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteResource(ctx, s.db, res.ID); err != nil {
		return err
	}
	s.audit(ctx, res.OrgID, "resource.deleted", "resource", res.ID, map[string]any{"name": res.Name})
	return nil
}

func (s *Service) CreateGroup(ctx context.Context, orgID snowflake.ID, name string) (*domain.Group, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	group := &domain.Group{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertGroup(ctx, s.db, group); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrGroupExists
		}
		return nil, err
	}
	s.audit(ctx, orgID, "group.created", "group", group.ID, map[string]any{"name": name})
	return group, nil
}

func (s *Service) ListGroups(ctx context.Context, orgID snowflake.ID) ([]domain.Group, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListGroups(ctx, s.db, orgID)
}

func (s *Service) DeleteGroup(ctx context.Context, orgID, id snowflake.ID) error {
	group, err := s.orgGroup(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteGroup(ctx, s.db, group.ID); err != nil {
		return err
	}
	s.audit(ctx, orgID, "group.deleted", "group", group.ID, map[string]any{"name": group.Name})
	return nil
}

func (s *Service) AddMember(ctx context.Context, orgID, groupID, profileID snowflake.ID) error {
	group, err := s.orgGroup(ctx, orgID, groupID)
	if err != nil {
		return err
	}
	if err := s.checkProfile(ctx, orgID, profileID); err != nil {
		return err
	}

	member := &domain.GroupMember{
		GroupID:   group.ID,
		ProfileID: profileID,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.AddMember(ctx, s.db, member); err != nil {
		return err
	}
	s.audit(ctx, orgID, "group.member_added", "group", group.ID, map[string]any{"profile_id": profileID.String()})
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, orgID, groupID, profileID snowflake.ID) error {
	group, err := s.orgGroup(ctx, orgID, groupID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveMember(ctx, s.db, group.ID, profileID); err != nil {
		return err
	}
	s.audit(ctx, orgID, "group.member_removed", "group", group.ID, map[string]any{"profile_id": profileID.String()})
	return nil
}

func (s *Service) ListMembers(ctx context.Context, orgID, groupID snowflake.ID) ([]domain.GroupMember, error) {
	group, err := s.orgGroup(ctx, orgID, groupID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, s.db, group.ID)
}

func (s *Service) Grant(ctx context.Context, orgID, resourceID, groupID snowflake.ID) error {
	res, err := s.GetResource(ctx, orgID, resourceID)
	if err != nil {
		return err
	}
	group, err := s.orgGroup(ctx, orgID, groupID)
	if err != nil {
		return err
	}

	grant := &domain.ResourceGrant{
		ResourceID: res.ID,
		GroupID:    group.ID,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.AddGrant(ctx, s.db, grant); err != nil {
		return err
	}
	s.audit(ctx, orgID, "resource.granted", "resource", res.ID, map[string]any{"group_id": group.ID.String()})
	return nil
}

func (s *Service) RevokeGrant(ctx context.Context, orgID, resourceID, groupID snowflake.ID) error {
	res, err := s.GetResource(ctx, orgID, resourceID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveGrant(ctx, s.db, res.ID, groupID); err != nil {
		return err
	}
	s.audit(ctx, orgID, "resource.revoked", "resource", res.ID, map[string]any{"group_id": groupID.String()})
	return nil
}

// HasAccess reports whether any group the profile belongs to is granted the resource.
// Role-based access is decided by the caller.
func (s *Service) HasAccess(ctx context.Context, profileID, resourceID snowflake.ID) (bool, error) {
	if profileID == 0 || resourceID == 0 {
		return false, nil
	}
	n, err := s.repo.CountGrantsForProfile(ctx, s.db, profileID, resourceID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) ListAccessible(ctx context.Context, orgID, profileID snowflake.ID) ([]domain.Resource, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListGrantedResources(ctx, s.db, orgID, profileID)
}

func (s *Service) orgGroup(ctx context.Context, orgID, id snowflake.ID) (*domain.Group, error) {
	group, err := s.repo.FindGroup(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if group == nil || group.OrgID != orgID {
		return nil, domain.ErrGroupNotFound
	}
	return group, nil
}

func (s *Service) checkProfile(ctx context.Context, orgID, profileID snowflake.ID) error {
	if profileID == 0 {
		return domain.ErrProfileNotFound
	}
	if s.profiles == nil {
		return nil
	}
	profile, err := s.profiles.Get(ctx, profileID)
	if errors.Is(err, profiledomain.ErrNotFound) {
		return domain.ErrProfileNotFound
	}
	if err != nil {
		return err
	}
	if profile.OrgID != orgID {
		return domain.ErrProfileNotFound
	}
	return nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      orgID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID.String(),
		Metadata:   metadata,
	})
}

func normalizeConnectionTypes(in []domain.ConnectionType) (datatypes.JSONSlice[string], error) {
	if len(in) == 0 {
		return nil, domain.ErrInvalidConnectionType
	}
	seen := make(map[domain.ConnectionType]struct{}, len(in))
	out := make(datatypes.JSONSlice[string], 0, len(in))
	for _, raw := range in {
		ct, err := domain.ParseConnectionType(string(raw))
		if err != nil {
			return nil, err
		}
		if _, ok := seen[ct]; ok {
			continue
		}
		seen[ct] = struct{}{}
		out = append(out, string(ct))
	}
	return out, nil
}

// validateResource checks that every declared connection type has the
// address it needs and fills the default port for proxied protocols.
func validateResource(res *domain.Resource) error {
	if res.Name == "" {
		return domain.ErrInvalidName
	}
	if res.Port < 0 || res.Port > 65535 {
		return domain.ErrInvalidPort
	}

	for _, raw := range res.ConnectionTypes {
		ct := domain.ConnectionType(raw)
		if !ct.Proxied() {
			u, err := url.Parse(res.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return domain.ErrInvalidURL
			}
			continue
		}
		if res.Host == "" {
			return domain.ErrInvalidHost
		}
		if res.Port == 0 {
			res.Port = ct.DefaultPort()
		}
	}
	return nil
}
