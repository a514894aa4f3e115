package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/smallbiznis/accessportal/internal/secretstore/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock         `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	auditSvc auditdomain.Service
	cipher   *secretCipher
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	svc := &Service{
		db:       p.DB,
		log:      p.Log.Named("secretstore.service"),
		cfg:      p.Cfg,
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    clk,
		auditSvc: p.AuditSvc,
	}
	if key := strings.TrimSpace(p.Cfg.SecretEncryptionKey); key != "" {
		c, err := newSecretCipher(key)
		if err != nil {
			svc.log.Error("secret cipher init failed", zap.Error(err))
		}
		svc.cipher = c
	}
	return svc
}

func (s *Service) Store(ctx context.Context, req domain.StoreRequest) (snowflake.ID, error) {
	if s.cipher == nil {
		return 0, s.cfg.RequireSecretKey()
	}
	if req.OrgID == 0 {
		return 0, domain.ErrInvalidOrganization
	}
	keyName := strings.TrimSpace(req.KeyName)
	if keyName == "" {
		return 0, domain.ErrInvalidKeyName
	}
	if !req.SecretType.Valid() {
		return 0, domain.ErrInvalidSecretType
	}
	if req.Value == "" {
		return 0, domain.ErrEmptyValue
	}

	sealed, err := s.cipher.seal([]byte(req.Value), associatedData(req.OrgID))
	if err != nil {
		return 0, err
	}

	secret := &domain.EncryptedSecret{
		ID:             s.genID.Generate(),
		OrgID:          req.OrgID,
		KeyName:        keyName,
		SecretType:     req.SecretType,
		EncryptedValue: datatypes.JSON(sealed),
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      s.clock.Now(),
	}
	if secret.Metadata == nil {
		secret.Metadata = datatypes.JSONMap{}
	}
	if req.ExpiresAt != nil {
		expiresAt := req.ExpiresAt.UTC()
		secret.ExpiresAt = &expiresAt
	}

	if err := s.repo.Insert(ctx, s.db, secret); err != nil {
		return 0, err
	}

	s.log.Info("secret stored",
		zap.String("secret_id", secret.ID.String()),
		zap.String("org_id", req.OrgID.String()),
		zap.String("key_name", keyName),
		zap.String("secret_type", string(req.SecretType)),
	)
	if s.auditSvc != nil {
		_ = s.auditSvc.Record(ctx, auditdomain.Entry{
			OrgID:      req.OrgID,
			Action:     "secret.stored",
			TargetType: "encrypted_secret",
			TargetID:   secret.ID.String(),
			Metadata: map[string]any{
				"key_name":    keyName,
				"secret_type": string(req.SecretType),
			},
		})
	}
	return secret.ID, nil
}

func (s *Service) Retrieve(ctx context.Context, orgID, secretID snowflake.ID) (string, error) {
	if s.cipher == nil {
		return "", s.cfg.RequireSecretKey()
	}
	if secretID == 0 {
		return "", domain.ErrSecretNotFound
	}

	secret, err := s.repo.FindByID(ctx, s.db, secretID)
	if err != nil {
		return "", err
	}
	if secret == nil || (orgID != 0 && secret.OrgID != orgID) {
		return "", domain.ErrSecretNotFound
	}
	if secret.ExpiresAt != nil && !s.clock.Now().Before(*secret.ExpiresAt) {
		return "", domain.ErrSecretExpired
	}

	plaintext, err := s.cipher.open(secret.EncryptedValue, associatedData(secret.OrgID))
	if err != nil {
		s.log.Warn("secret decrypt failed",
			zap.String("secret_id", secretID.String()),
			zap.Error(err),
		)
		return "", domain.ErrDecryptFailed
	}
	return string(plaintext), nil
}

func associatedData(orgID snowflake.ID) []byte {
	return []byte("org:" + orgID.String())
}
