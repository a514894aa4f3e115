package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/smallbiznis/accessportal/internal/device/domain"
	enrollmentservice "github.com/smallbiznis/accessportal/internal/enrollmenttoken/service"
	"github.com/smallbiznis/accessportal/internal/observability/metrics"
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
	Cfg      config.Config
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock         `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	appURL   string
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("device.service"),
		appURL:   p.Cfg.AppURL,
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    clk,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) GenerateToken(ctx context.Context, req domain.GenerateTokenRequest) (*domain.GenerateTokenResult, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}

	token, err := enrollmentservice.NewToken()
	if err != nil {
		return nil, err
	}
	tokenHash := enrollmentservice.HashToken(token)

	now := s.clock.Now()
	expiresAt := now.Add(domain.TokenTTL)
	device := &domain.Device{
		ID:              s.genID.Generate(),
		UserID:          req.UserID,
		OrgID:           req.OrgID,
		Name:            strings.TrimSpace(req.Name),
		DeviceType:      strings.TrimSpace(req.DeviceType),
		Status:          domain.StatusPending,
		TrustLevel:      domain.TrustLow,
		EnrollmentToken: &tokenHash,
		TokenExpiresAt:  &expiresAt,
		Metadata:        datatypes.JSONMap{"token_expires_at": expiresAt.Format(time.RFC3339)},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, device); err != nil {
			return err
		}
		return s.repo.InsertEvent(ctx, tx, s.newEvent(device, domain.EventTokenIssued, nil, now))
	})
	if err != nil {
		s.metrics.RecordEnrollment(ctx, "generate_token", "error")
		return nil, err
	}

	result, err := s.tokenResult(device.ID, token, expiresAt)
	if err != nil {
		return nil, err
	}

	s.log.Info("device enrollment token issued",
		zap.String("device_id", device.ID.String()),
		zap.String("org_id", device.OrgID.String()),
		zap.Time("expires_at", expiresAt),
	)
	s.metrics.RecordEnrollment(ctx, "generate_token", "success")
	return result, nil
}

func (s *Service) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.Device, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	fingerprint := domain.ResolveFingerprint(req.Fingerprint, req.Attributes)
	if fingerprint == "" {
		return nil, domain.ErrInvalidFingerprint
	}
	tokenHash := enrollmentservice.HashToken(token)
	now := s.clock.Now()

	pending, err := s.repo.FindPendingByToken(ctx, s.db, tokenHash)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		s.metrics.RecordEnrollment(ctx, "verify", "invalid")
		return nil, domain.ErrInvalidOrExpired
	}

	if pending.TokenExpiresAt == nil || !now.Before(*pending.TokenExpiresAt) {
		if err := s.repo.Delete(ctx, s.db, pending.ID); err != nil {
			s.log.Warn("failed to delete expired pending device",
				zap.String("device_id", pending.ID.String()),
				zap.Error(err),
			)
			return nil, err
		}
		s.log.Info("expired pending device removed", zap.String("device_id", pending.ID.String()))
		s.metrics.RecordEnrollment(ctx, "verify", "expired")
		return nil, domain.ErrTokenExpired
	}

	var replaced snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByFingerprint(ctx, tx, pending.UserID, fingerprint)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != pending.ID {
			if err := s.repo.Delete(ctx, tx, existing.ID); err != nil {
				return err
			}
			replaced = existing.ID
		}

		ok, err := s.repo.Activate(ctx, tx, pending.ID, tokenHash, fingerprint, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidOrExpired
		}

		details := map[string]any{"trust_level": string(domain.TrustHigh)}
		if replaced != 0 {
			details["replaced_device_id"] = replaced.String()
		}
		return s.repo.InsertEvent(ctx, tx, s.newEvent(pending, domain.EventVerified, details, now))
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrExpired) {
			s.metrics.RecordEnrollment(ctx, "verify", "invalid")
		}
		return nil, err
	}

	device, err := s.repo.FindByID(ctx, s.db, pending.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info("device verified",
		zap.String("device_id", pending.ID.String()),
		zap.String("org_id", pending.OrgID.String()),
	)
	s.audit(ctx, device, "device_enrolled", map[string]any{"method": "token", "trust_level": string(domain.TrustHigh)}, true)
	s.metrics.RecordEnrollment(ctx, "verify", "success")
	return device, nil
}

func (s *Service) Enroll(ctx context.Context, req domain.EnrollRequest) (*domain.Device, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	fingerprint := domain.ResolveFingerprint(req.Fingerprint, req.Attributes)
	if fingerprint == "" {
		return nil, domain.ErrInvalidFingerprint
	}
	now := s.clock.Now()

	existing, err := s.repo.FindByFingerprint(ctx, s.db, req.UserID, fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.touch(ctx, existing, now)
	}

	device := &domain.Device{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		OrgID:       req.OrgID,
		Name:        strings.TrimSpace(req.Name),
		DeviceType:  strings.TrimSpace(req.DeviceType),
		Fingerprint: &fingerprint,
		Status:      domain.StatusActive,
		TrustLevel:  domain.TrustMedium,
		EnrolledAt:  &now,
		LastSeen:    &now,
		Metadata:    datatypes.JSONMap{"enrollment_method": "silent"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, device); err != nil {
			return err
		}
		return s.repo.InsertEvent(ctx, tx, s.newEvent(device, domain.EventSilentEnrolled,
			map[string]any{"trust_level": string(domain.TrustMedium)}, now))
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// a concurrent enroll for the same fingerprint won the insert
			winner, findErr := s.repo.FindByFingerprint(ctx, s.db, req.UserID, fingerprint)
			if findErr == nil && winner != nil {
				return s.touch(ctx, winner, now)
			}
		}
		s.metrics.RecordEnrollment(ctx, "enroll", "error")
		return nil, err
	}

	s.log.Info("device silently enrolled",
		zap.String("device_id", device.ID.String()),
		zap.String("org_id", device.OrgID.String()),
	)
	s.audit(ctx, device, "device_enrolled", map[string]any{"method": "silent", "trust_level": string(domain.TrustMedium)}, true)
	s.metrics.RecordEnrollment(ctx, "enroll", "created")
	return device, nil
}

func (s *Service) touch(ctx context.Context, device *domain.Device, now time.Time) (*domain.Device, error) {
	if err := s.repo.Touch(ctx, s.db, device.ID, now); err != nil {
		return nil, err
	}
	device.LastSeen = &now
	device.UpdatedAt = now
	s.metrics.RecordEnrollment(ctx, "enroll", "existing")
	return device, nil
}

func (s *Service) Status(ctx context.Context, userID, deviceID snowflake.ID) (*domain.Device, error) {
	device, err := s.repo.FindByID(ctx, s.db, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil || (userID != 0 && device.UserID != userID) {
		return nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	if err := s.repo.Touch(ctx, s.db, device.ID, now); err != nil {
		return nil, err
	}
	device.LastSeen = &now
	return device, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Device, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) ListEvents(ctx context.Context, orgID, deviceID snowflake.ID) ([]domain.DeviceEvent, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListEvents(ctx, s.db, orgID, deviceID)
}

func (s *Service) ReEnroll(ctx context.Context, orgID, deviceID snowflake.ID) (*domain.GenerateTokenResult, error) {
	device, err := s.orgDevice(ctx, orgID, deviceID)
	if err != nil {
		return nil, err
	}

	token, err := enrollmentservice.NewToken()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	expiresAt := now.Add(domain.TokenTTL)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.ResetToPending(ctx, tx, device.ID, enrollmentservice.HashToken(token), expiresAt, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		return s.repo.InsertEvent(ctx, tx, s.newEvent(device, domain.EventReEnrolled,
			map[string]any{"previous_status": string(device.Status)}, now))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("device reset to pending", zap.String("device_id", device.ID.String()))
	s.audit(ctx, device, "device_re_enrolled", nil, false)
	s.metrics.RecordEnrollment(ctx, "re_enroll", "success")
	return s.tokenResult(device.ID, token, expiresAt)
}

func (s *Service) Revoke(ctx context.Context, orgID, deviceID snowflake.ID) error {
	device, err := s.orgDevice(ctx, orgID, deviceID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Delete(ctx, tx, device.ID); err != nil {
			return err
		}
		return s.repo.InsertEvent(ctx, tx, s.newEvent(device, domain.EventRevoked, nil, now))
	})
	if err != nil {
		return err
	}

	s.log.Info("device revoked", zap.String("device_id", device.ID.String()))
	s.audit(ctx, device, "device_revoked", nil, false)
	s.metrics.RecordEnrollment(ctx, "revoke", "success")
	return nil
}

func (s *Service) orgDevice(ctx context.Context, orgID, deviceID snowflake.ID) (*domain.Device, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	device, err := s.repo.FindByID(ctx, s.db, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil || device.OrgID != orgID {
		return nil, domain.ErrNotFound
	}
	return device, nil
}

func (s *Service) tokenResult(deviceID snowflake.ID, token string, expiresAt time.Time) (*domain.GenerateTokenResult, error) {
	link := enrollURL(s.appURL, token)
	qr, err := renderQRCode(link)
	if err != nil {
		return nil, err
	}
	return &domain.GenerateTokenResult{
		DeviceID:  deviceID,
		Token:     token,
		ExpiresAt: expiresAt,
		EnrollURL: link,
		QRCode:    qr,
	}, nil
}

func (s *Service) newEvent(device *domain.Device, eventType string, details map[string]any, now time.Time) *domain.DeviceEvent {
	if details == nil {
		details = map[string]any{}
	}
	return &domain.DeviceEvent{
		ID:        s.genID.Generate(),
		DeviceID:  device.ID,
		OrgID:     device.OrgID,
		EventType: eventType,
		Details:   datatypes.JSONMap(details),
		CreatedAt: now,
	}
}

// audit attributes self-service actions to the device owner and admin
// actions to the caller found in ctx.
func (s *Service) audit(ctx context.Context, device *domain.Device, action string, metadata map[string]any, byOwner bool) {
	if s.auditSvc == nil || device == nil {
		return
	}
	entry := auditdomain.Entry{
		OrgID:      device.OrgID,
		Action:     action,
		TargetType: "device",
		TargetID:   device.ID.String(),
		Metadata:   metadata,
	}
	if byOwner {
		entry.ActorType = auditdomain.ActorTypeUser
		entry.ActorID = device.UserID.String()
	}
	_ = s.auditSvc.Record(ctx, entry)
}
