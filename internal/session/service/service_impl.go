package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/smallbiznis/accessportal/internal/observability/metrics"
	"github.com/smallbiznis/accessportal/internal/poller"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
	"github.com/smallbiznis/accessportal/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTTL      = 8 * time.Hour
	sessionAudience = "portal-session"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Repo      domain.Repository
	Resources resourcedomain.Service
	Settings  *config.ProviderSettingsHolder `optional:"true"`
	Clock     clock.Clock                    `optional:"true"`
	AuditSvc  auditdomain.Service            `optional:"true"`
	Metrics   *metrics.Metrics               `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       config.Config
	ttl       time.Duration
	repo      domain.Repository
	resources resourcedomain.Service
	settings  *config.ProviderSettingsHolder
	clock     clock.Clock
	auditSvc  auditdomain.Service
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	ttl := p.Cfg.Session.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("session.service"),
		cfg:       p.Cfg,
		ttl:       ttl,
		repo:      p.Repo,
		resources: p.Resources,
		settings:  p.Settings,
		clock:     clk,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}
}

// Launch checks that the principal may reach the resource over the requested
// connection type, records the session and returns a time-boxed URL.
func (s *Service) Launch(ctx context.Context, req domain.LaunchRequest) (*domain.LaunchResult, error) {
	if err := s.cfg.RequireJWTSecret(); err != nil {
		return nil, err
	}
	principal := req.Principal
	if principal.ProfileID == 0 {
		return nil, domain.ErrAccessDenied
	}
	connType, err := resourcedomain.ParseConnectionType(string(req.ConnectionType))
	if err != nil {
		return nil, err
	}

	scope := principal.OrgID
	if principal.Role.IsGlobal() {
		scope = 0
	}
	res, err := s.resources.GetResource(ctx, scope, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAdminister(res.OrgID) {
		granted, err := s.resources.HasAccess(ctx, principal.ProfileID, res.ID)
		if err != nil {
			return nil, err
		}
		if !granted {
			s.log.Info("session launch denied",
				zap.String("profile_id", principal.ProfileID.String()),
				zap.String("resource_id", res.ID.String()),
			)
			return nil, domain.ErrAccessDenied
		}
	}
	if !res.Supports(connType) {
		return nil, domain.ErrUnsupportedConnection
	}
	if connType.Proxied() && s.cfg.Session.GatewayURL == "" {
		return nil, domain.ErrGatewayNotConfigured
	}

	now := s.clock.Now()
	session := &domain.AccessSession{
		ID:             newSessionID(now),
		OrgID:          res.OrgID,
		ProfileID:      principal.ProfileID,
		ResourceID:     res.ID,
		ConnectionType: string(connType),
		Status:         domain.StatusActive,
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
	}

	token, err := s.sign(session, now)
	if err != nil {
		return nil, err
	}
	link, err := s.launchURL(res, connType, session.ID, token)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, s.db, session); err != nil {
		return nil, err
	}

	s.log.Info("session launched",
		zap.String("session_id", session.ID),
		zap.String("profile_id", session.ProfileID.String()),
		zap.String("resource_id", session.ResourceID.String()),
		zap.String("connection_type", session.ConnectionType),
	)
	s.metrics.RecordSessionLaunched(ctx, session.ConnectionType)
	s.audit(ctx, session, "session.launched", map[string]any{
		"resource_name":   res.Name,
		"connection_type": session.ConnectionType,
		"expires_at":      session.ExpiresAt.Format(time.RFC3339),
	})

	return &domain.LaunchResult{
		SessionID:      session.ID,
		URL:            link,
		Token:          token,
		ConnectionType: session.ConnectionType,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

// Validate is called by the gateway or the web resource to redeem a launch
// token. The first successful call stamps connected_at.
func (s *Service) Validate(ctx context.Context, token string) (*domain.AccessSession, error) {
	if err := s.cfg.RequireJWTSecret(); err != nil {
		return nil, err
	}
	var claims domain.Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.AuthJWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(sessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, domain.ErrSessionExpired
	}
	if err != nil || claims.ID == "" {
		return nil, domain.ErrInvalidToken
	}

	session, err := s.repo.FindByID(ctx, s.db, claims.ID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.ProfileID.String() != claims.Subject {
		return nil, domain.ErrInvalidToken
	}

	now := s.clock.Now()
	switch {
	case session.Status == domain.StatusEnded:
		return nil, domain.ErrSessionEnded
	case !session.Live(now):
		if _, err := s.repo.Finish(ctx, s.db, session.ID, domain.StatusExpired, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrSessionExpired
	}

	if session.ConnectedAt == nil {
		if err := s.repo.MarkConnected(ctx, s.db, session.ID, now); err != nil {
			return nil, err
		}
		session.ConnectedAt = &now
	}
	return session, nil
}

func (s *Service) End(ctx context.Context, principal authdomain.Principal, sessionID string) (*domain.AccessSession, error) {
	session, err := s.Get(ctx, principal, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ok, err := s.repo.Finish(ctx, s.db, session.ID, domain.StatusEnded, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionEnded
	}
	session.Status = domain.StatusEnded
	session.EndedAt = &now

	s.audit(ctx, session, "session.ended", map[string]any{"ended_by": principal.ProfileID.String()})
	return session, nil
}

// Get returns the session to its owner or to an administrator of its organization.
func (s *Service) Get(ctx context.Context, principal authdomain.Principal, sessionID string) (*domain.AccessSession, error) {
	session, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	if session.ProfileID != principal.ProfileID && !principal.CanAdminister(session.OrgID) {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

func (s *Service) ListActive(ctx context.Context, orgID, profileID snowflake.ID) ([]domain.AccessSession, error) {
	return s.repo.ListActive(ctx, s.db, orgID, profileID)
}

// WaitReady polls until the gateway has redeemed the session token.
func (s *Service) WaitReady(ctx context.Context, sessionID string) (*domain.AccessSession, error) {
	cfg := poller.FromSettings(s.settings.Get().Polling)
	return poller.Until(ctx, cfg, func(ctx context.Context) (*domain.AccessSession, bool, error) {
		session, err := s.repo.FindByID(ctx, s.db, sessionID)
		if err != nil {
			return nil, false, err
		}
		if session == nil {
			return nil, false, domain.ErrNotFound
		}
		if session.Status == domain.StatusEnded {
			return session, false, domain.ErrSessionEnded
		}
		if !session.Live(s.clock.Now()) {
			return session, false, domain.ErrSessionExpired
		}
		return session, session.ConnectedAt != nil, nil
	})
}

func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireBefore(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired stale sessions", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) sign(session *domain.AccessSession, now time.Time) (string, error) {
	claims := domain.Claims{
		OrgID:          session.OrgID.String(),
		ResourceID:     session.ResourceID.String(),
		ConnectionType: session.ConnectionType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   session.ProfileID.String(),
			Issuer:    s.cfg.AuthJWTIssuer,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AuthJWTSecret))
}

// launchURL returns {resource.url}?access_token=... for direct web resources
// and {gateway}/{type}/{session_id}?token=... for proxied protocols.
func (s *Service) launchURL(res *resourcedomain.Resource, ct resourcedomain.ConnectionType, sessionID, token string) (string, error) {
	if !ct.Proxied() {
		u, err := url.Parse(res.URL)
		if err != nil {
			return "", resourcedomain.ErrInvalidURL
		}
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	base := strings.TrimRight(s.cfg.Session.GatewayURL, "/")
	return base + "/" + string(ct) + "/" + url.PathEscape(sessionID) + "?token=" + url.QueryEscape(token), nil
}

func (s *Service) audit(ctx context.Context, session *domain.AccessSession, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      session.OrgID,
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    session.ProfileID.String(),
		Action:     action,
		TargetType: "session",
		TargetID:   session.ID,
		Metadata:   metadata,
	})
}
