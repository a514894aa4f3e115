package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("profile.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateProfileRequest) (*domain.Profile, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.ErrInvalidEmail
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, domain.ErrInvalidName
	}
	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	profile := &domain.Profile{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		Email:     email,
		FullName:  fullName,
		Role:      role,
		CreatedAt: s.clock.Now(),
	}
	if ext := strings.TrimSpace(req.ExternalUserID); ext != "" {
		profile.ExternalUserID = &ext
	}

	if err := s.repo.Insert(ctx, s.db, profile); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrProfileExists
		}
		return nil, err
	}

	s.log.Info("profile created",
		zap.String("profile_id", profile.ID.String()),
		zap.String("org_id", profile.OrgID.String()),
		zap.String("role", string(profile.Role)),
	)
	return profile, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Profile, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	profile, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

func (s *Service) ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Profile, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListByOrg(ctx, s.db, orgID)
}

func (s *Service) UpdateRole(ctx context.Context, orgID, id snowflake.ID, role domain.Role) (*domain.Profile, error) {
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	affected, err := s.repo.UpdateRole(ctx, s.db, orgID, id, role)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrNotFound
	}
	return s.Get(ctx, id)
}
