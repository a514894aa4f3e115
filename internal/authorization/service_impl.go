package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrganization = "organization"
	ObjectProfile      = "profile"
	ObjectDevice       = "device"
	ObjectResource     = "resource"
	ObjectGroup        = "group"
	ObjectIntegration  = "integration"
	ObjectProvider     = "provider"
	ObjectSession      = "session"
	ObjectSecret       = "secret"
	ObjectEnrollment   = "enrollment_token"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionView   = "view"
	ActionManage = "manage"

	ActionOrganizationOnboard = "organization.onboard"

	ActionDeviceEnroll   = "device.enroll"
	ActionDeviceReEnroll = "device.re_enroll"
	ActionDeviceRevoke   = "device.revoke"

	ActionSessionLaunch = "session.launch"
	ActionSessionEnd    = "session.end"

	ActionProviderOperate = "provider.operate"

	ActionSecretStore = "secret.store"
	ActionSecretRead  = "secret.read"

	ActionEnrollmentIssue = "enrollment_token.issue"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists policies through the gorm adapter.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return buildEnforcer(adapter)
}

// NewMemoryEnforcer keeps policies in process only.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	return buildEnforcer(nil)
}

func buildEnforcer(adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(adapter != nil)
	enforcer.EnableAutoBuildRoleLinks(true)
	if adapter != nil {
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		s.audit(ctx, "authorization.denied", actorType, actorID, orgID, object, action)
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.audit(ctx, "authorization.denied", actorType, actorID, orgID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.audit(ctx, "authorization.granted", actorType, actorID, orgID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID snowflake.ID) (string, string, string, string, error) {
	if actor == "system" {
		return actor, "role:system", "system", "", nil
	}
	if !strings.HasPrefix(actor, "profile:") {
		return "", "", "", "", ErrInvalidActor
	}

	profileID, err := snowflake.ParseString(strings.TrimPrefix(actor, "profile:"))
	if err != nil || profileID == 0 {
		return "", "", "", "", ErrInvalidActor
	}
	idStr := profileID.String()

	var row struct {
		OrgID snowflake.ID `gorm:"column:organization_id"`
		Role  string       `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT organization_id, role FROM profiles WHERE id = ? LIMIT 1`,
		profileID,
	).Scan(&row).Error; err != nil {
		return actor, "", "user", idStr, err
	}

	role := profiledomain.Role(strings.TrimSpace(row.Role))
	if !role.Valid() {
		return actor, "", "user", idStr, ErrForbidden
	}
	if row.OrgID != orgID && !role.IsGlobal() {
		return actor, "", "user", idStr, ErrForbidden
	}
	return actor, "role:" + string(role), "user", idStr, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) audit(ctx context.Context, event string, actorType string, actorID string, orgID snowflake.ID, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      orgID,
		ActorType:  auditdomain.ActorType(actorType),
		ActorID:    actorID,
		Action:     event,
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	})
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionSecretRead, ActionDeviceRevoke, ActionOrganizationOnboard:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// End users launch sessions and enroll their own devices.
		{"role:user", ObjectSession, ActionSessionLaunch},
		{"role:user", ObjectDevice, ActionDeviceEnroll},

		// Support staff triage devices and read directory data.
		{"role:support", ObjectSession, ActionSessionLaunch},
		{"role:support", ObjectDevice, ActionDeviceEnroll},
		{"role:support", ObjectDevice, ActionView},
		{"role:support", ObjectDevice, ActionDeviceReEnroll},
		{"role:support", ObjectProfile, ActionView},
		{"role:support", ObjectGroup, ActionView},
		{"role:support", ObjectResource, ActionView},
		{"role:support", ObjectSession, ActionView},
		{"role:support", ObjectAuditLog, ActionView},
		{"role:support", ObjectIntegration, ActionView},
		{"role:support", ObjectOrganization, ActionView},

		// Organization admins manage everything inside their organization.
		{"role:org_admin", ObjectSession, "*"},
		{"role:org_admin", ObjectDevice, "*"},
		{"role:org_admin", ObjectProfile, "*"},
		{"role:org_admin", ObjectGroup, "*"},
		{"role:org_admin", ObjectResource, "*"},
		{"role:org_admin", ObjectIntegration, "*"},
		{"role:org_admin", ObjectProvider, "*"},
		{"role:org_admin", ObjectSecret, "*"},
		{"role:org_admin", ObjectEnrollment, "*"},
		{"role:org_admin", ObjectAuditLog, ActionView},
		{"role:org_admin", ObjectOrganization, ActionView},

		// Global admins additionally onboard new organizations.
		{"role:global_admin", ObjectOrganization, "*"},
		{"role:global_admin", ObjectSession, "*"},
		{"role:global_admin", ObjectDevice, "*"},
		{"role:global_admin", ObjectProfile, "*"},
		{"role:global_admin", ObjectGroup, "*"},
		{"role:global_admin", ObjectResource, "*"},
		{"role:global_admin", ObjectIntegration, "*"},
		{"role:global_admin", ObjectProvider, "*"},
		{"role:global_admin", ObjectSecret, "*"},
		{"role:global_admin", ObjectEnrollment, "*"},
		{"role:global_admin", ObjectAuditLog, "*"},

		// Automated workflows.
		{"role:system", ObjectOrganization, ActionOrganizationOnboard},
		{"role:system", ObjectSecret, ActionSecretStore},
		{"role:system", ObjectSecret, ActionSecretRead},
		{"role:system", ObjectEnrollment, ActionEnrollmentIssue},
		{"role:system", ObjectProvider, ActionProviderOperate},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
