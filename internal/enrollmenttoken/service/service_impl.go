package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("enrollmenttoken.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if !req.TokenType.Valid() {
		return nil, domain.ErrInvalidTokenType
	}
	hours := req.ExpiresHours
	if hours == 0 {
		hours = domain.DefaultExpiresHours
	}
	if hours < 0 || hours > domain.MaxExpiresHours {
		return nil, domain.ErrInvalidExpiry
	}

	raw, err := NewToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	token := &domain.EnrollmentToken{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		UserID:    req.UserID,
		TokenType: req.TokenType,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(time.Duration(hours) * time.Hour),
		Metadata:  datatypes.JSONMap(req.Metadata),
		CreatedAt: now,
	}
	if token.Metadata == nil {
		token.Metadata = datatypes.JSONMap{}
	}
	if deviceType := strings.TrimSpace(req.DeviceType); deviceType != "" {
		token.DeviceType = &deviceType
	}

	if err := s.repo.Insert(ctx, s.db, token); err != nil {
		return nil, err
	}

	s.log.Info("enrollment token generated",
		zap.String("token_id", token.ID.String()),
		zap.String("org_id", token.OrgID.String()),
		zap.String("token_type", string(token.TokenType)),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return &domain.GenerateResult{TokenID: token.ID, Token: raw, ExpiresAt: token.ExpiresAt}, nil
}

func (s *Service) Validate(ctx context.Context, token string, tokenType domain.TokenType) (*domain.ValidateResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	if !tokenType.Valid() {
		return nil, domain.ErrInvalidTokenType
	}

	row, err := s.repo.FindByHash(ctx, s.db, HashToken(token), tokenType)
	if err != nil {
		return nil, err
	}
	if row == nil || !row.Valid(s.clock.Now()) {
		return &domain.ValidateResult{IsValid: false}, nil
	}

	return &domain.ValidateResult{
		IsValid:  true,
		TokenID:  row.ID,
		UserID:   row.UserID,
		OrgID:    row.OrgID,
		Metadata: row.Metadata,
	}, nil
}

// MarkUsed consumes the token. orgID restricts it to one organization's
// tokens; zero is reserved for platform-wide callers.
func (s *Service) MarkUsed(ctx context.Context, orgID, tokenID snowflake.ID) (bool, error) {
	if tokenID == 0 {
		return false, nil
	}
	ok, err := s.repo.MarkUsed(ctx, s.db, orgID, tokenID, s.clock.Now())
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("enrollment token consumed", zap.String("token_id", tokenID.String()))
	}
	return ok, nil
}

// PurgeExpired drops tokens that have been unusable for longer than retention.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	n, err := s.repo.DeleteExpiredBefore(ctx, s.db, s.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("purged enrollment tokens", zap.Int64("count", n))
	}
	return n, nil
}

// NewToken returns 32 random bytes encoded for use in URLs.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
