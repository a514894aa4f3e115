package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	tokenType     = "Bearer"
	tokenAudience = "portal-api"
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Clock    clock.Clock           `optional:"true"`
	Profiles profiledomain.Service `optional:"true"`
}

type TokenService struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	log      *zap.Logger
	clock    clock.Clock
	profiles profiledomain.Service
	cfg      config.Config
}

func NewTokenService(p Params) domain.TokenService {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	ttl := p.Cfg.AuthTokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{
		secret:   []byte(p.Cfg.AuthJWTSecret),
		issuer:   p.Cfg.AuthJWTIssuer,
		ttl:      ttl,
		log:      p.Log.Named("auth.token"),
		clock:    clk,
		profiles: p.Profiles,
		cfg:      p.Cfg,
	}
}

func (s *TokenService) Issue(ctx context.Context, p domain.Principal) (*domain.IssuedToken, error) {
	if err := s.cfg.RequireJWTSecret(); err != nil {
		return nil, err
	}
	if p.ProfileID == 0 || p.OrgID == 0 || !p.Role.Valid() {
		return nil, domain.ErrUnknownUser
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	claims := domain.Claims{
		OrgID: p.OrgID.String(),
		Role:  string(p.Role),
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ProfileID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &domain.IssuedToken{
		AccessToken: signed,
		TokenType:   tokenType,
		ExpiresAt:   expiresAt,
	}, nil
}

// Parse verifies the token and, when a profile directory is wired, reloads
// the caller's current role so demotions apply before the token expires.
func (s *TokenService) Parse(ctx context.Context, raw string) (*domain.Principal, error) {
	if err := s.cfg.RequireJWTSecret(); err != nil {
		return nil, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrMissingToken
	}

	var claims domain.Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, domain.ErrTokenExpired
	}
	if err != nil {
		s.log.Debug("bearer token rejected", zap.Error(err))
		return nil, domain.ErrInvalidToken
	}

	profileID, err := snowflake.ParseString(claims.Subject)
	if err != nil || profileID == 0 {
		return nil, domain.ErrInvalidToken
	}
	orgID, err := snowflake.ParseString(claims.OrgID)
	if err != nil || orgID == 0 {
		return nil, domain.ErrInvalidToken
	}
	principal := &domain.Principal{
		ProfileID: profileID,
		OrgID:     orgID,
		Role:      profiledomain.Role(claims.Role),
		Email:     claims.Email,
	}

	if s.profiles != nil {
		profile, err := s.profiles.Get(ctx, profileID)
		if errors.Is(err, profiledomain.ErrNotFound) {
			return nil, domain.ErrUnknownUser
		}
		if err != nil {
			return nil, err
		}
		if profile.OrgID != orgID {
			return nil, domain.ErrInvalidToken
		}
		principal.Role = profile.Role
		principal.Email = profile.Email
	}
	if !principal.Role.Valid() {
		return nil, domain.ErrInvalidToken
	}
	return principal, nil
}
