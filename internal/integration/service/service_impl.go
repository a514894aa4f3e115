package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/integration/domain"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
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
	Secrets  secretdomain.Service
	Clock    clock.Clock         `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	secrets  secretdomain.Service
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("integration.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		secrets:  p.Secrets,
		clock:    clk,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.ProviderIntegration, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if !req.Provider.Valid() {
		return nil, domain.ErrInvalidProvider
	}

	now := s.clock.Now()
	row := &domain.ProviderIntegration{
		ID:          s.genID.Generate(),
		OrgID:       req.OrgID,
		Provider:    req.Provider,
		ExternalID:  strings.TrimSpace(req.ExternalID),
		EndpointURL: strings.TrimSpace(req.EndpointURL),
		Metadata:    datatypes.JSONMap(req.Metadata),
		Status:      domain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}
	if req.SecretID != 0 {
		secretID := req.SecretID
		row.SecretID = &secretID
	}

	if err := s.repo.Upsert(ctx, s.db, row); err != nil {
		return nil, err
	}

	saved, err := s.repo.Find(ctx, s.db, req.OrgID, req.Provider)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, domain.ErrNotConfigured
	}

	s.log.Info("provider integration saved",
		zap.String("org_id", req.OrgID.String()),
		zap.String("provider", string(req.Provider)),
		zap.String("integration_id", saved.ID.String()),
	)
	if s.auditSvc != nil {
		_ = s.auditSvc.Record(ctx, auditdomain.Entry{
			OrgID:      req.OrgID,
			Action:     "integration.configured",
			TargetType: "provider_integration",
			TargetID:   saved.ID.String(),
			Metadata: map[string]any{
				"provider":    string(req.Provider),
				"external_id": saved.ExternalID,
			},
		})
	}
	return saved, nil
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID, provider domain.Provider) (*domain.ProviderIntegration, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if !provider.Valid() {
		return nil, domain.ErrInvalidProvider
	}
	row, err := s.repo.Find(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}
	if row == nil || row.Status != domain.StatusActive {
		return nil, domain.ErrNotConfigured
	}
	return row, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]domain.ProviderIntegration, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.List(ctx, s.db, orgID)
}

// Resolve reads the integration row and then decrypts the referenced secret.
func (s *Service) Resolve(ctx context.Context, orgID snowflake.ID, provider domain.Provider) (*domain.Credential, error) {
	row, err := s.Get(ctx, orgID, provider)
	if err != nil {
		return nil, err
	}
	if row.SecretID == nil || *row.SecretID == 0 {
		return nil, domain.ErrMissingSecret
	}

	secret, err := s.secrets.Retrieve(ctx, orgID, *row.SecretID)
	if err != nil {
		return nil, err
	}
	return &domain.Credential{Integration: *row, Secret: secret}, nil
}
