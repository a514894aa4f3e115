// Package onboarding provisions a new client organization across the portal
// database, the identity provider and the tailnet.
//
// The workflow is best effort and never rolls back. Only organization
// creation is fatal; every later step records its own outcome and the run
// continues. Steps whose inputs are missing are skipped without adding an
// error.
package onboarding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	"github.com/smallbiznis/accessportal/internal/config"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	"github.com/smallbiznis/accessportal/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/providers/email"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	invitationExpiryHours = 72
	lockTTL               = 5 * time.Minute
	lockKeyPrefix         = "onboarding:lock:"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Cfg           config.Config
	Organizations orgdomain.Service
	Profiles      profiledomain.Service
	Tokens        tokendomain.Service
	Identity      IdentityProvisioner
	Network       NetworkProvisioner
	Mailer        email.Provider
	AuditSvc      auditdomain.Service
	Locker        Locker           `optional:"true"`
	StepMetrics   *StepMetrics     `optional:"true"`
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	cfg           config.Config
	organizations orgdomain.Service
	profiles      profiledomain.Service
	tokens        tokendomain.Service
	identity      IdentityProvisioner
	network       NetworkProvisioner
	mailer        email.Provider
	auditSvc      auditdomain.Service
	locker        Locker
	stepMetrics   *StepMetrics
	metrics       *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		log:           p.Log.Named("onboarding.service"),
		cfg:           p.Cfg,
		organizations: p.Organizations,
		profiles:      p.Profiles,
		tokens:        p.Tokens,
		identity:      p.Identity,
		network:       p.Network,
		mailer:        p.Mailer,
		auditSvc:      p.AuditSvc,
		locker:        p.Locker,
		stepMetrics:   p.StepMetrics,
		metrics:       p.Metrics,
	}
}

// run carries the state shared between steps.
type run struct {
	req       Request
	result    *Result
	log       *zap.Logger
	orgID     snowflake.ID
	orgName   string
	profileID snowflake.ID
	token     *tokendomain.GenerateResult
}

// Onboard runs the onboarding workflow. The error is non-nil only when the
// request is rejected before any work is done or organization creation fails;
// partial failures are reported through Result.Errors.
func (s *Service) Onboard(ctx context.Context, req Request) (result *Result, err error) {
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	req.SupportEmail = strings.TrimSpace(req.SupportEmail)
	if req.OrganizationName == "" || req.SupportEmail == "" {
		return nil, ErrInvalidRequest
	}
	if strings.TrimSpace(req.AppURL) == "" {
		req.AppURL = s.cfg.AppURL
	}

	release, err := s.acquire(ctx, req.OrganizationName)
	if err != nil {
		return nil, err
	}
	defer release()

	r := &run{
		req:    req,
		result: &Result{Steps: []StepResult{}, Errors: []string{}},
		log:    s.log.With(zap.String("organization_name", req.OrganizationName)),
	}
	result = r.result

	defer func() {
		if rec := recover(); rec != nil {
			s.abort(ctx, r, fmt.Errorf("panic: %v", rec))
			err = nil
		}
		s.finish(ctx, r)
	}()

	if err := s.createOrganization(ctx, r); err != nil {
		return result, err
	}
	s.zitadelSetup(ctx, r)
	s.tailscaleSetup(ctx, r)
	s.supportProfile(ctx, r)
	s.invitationToken(ctx, r)
	s.invitationEmail(ctx, r)
	s.tailscaleAuthKey(ctx, r)
	s.auditLog(ctx, r)

	return result, nil
}

func (s *Service) acquire(ctx context.Context, name string) (func(), error) {
	noop := func() {}
	if s.locker == nil || !s.locker.Enabled() {
		return noop, nil
	}
	key := lockKeyPrefix + slug.Make(name)
	token, ok, err := s.locker.TryLock(ctx, key, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire onboarding lock: %w", err)
	}
	if !ok {
		return nil, ErrInProgress
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("release onboarding lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// progress logs the outcome of the most recent step.
func (r *run) progress() {
	if len(r.result.Steps) == 0 {
		return
	}
	last := r.result.Steps[len(r.result.Steps)-1]
	fields := []zap.Field{
		zap.String("step", last.Step),
		zap.String("outcome", string(last.Outcome)),
	}
	if r.orgID != 0 {
		fields = append(fields, zap.String("org_id", r.orgID.String()))
	}
	if last.Reason != "" {
		fields = append(fields, zap.String("reason", last.Reason))
	}
	if last.Outcome == OutcomeFailed {
		r.log.Warn("onboarding step", fields...)
		return
	}
	r.log.Info("onboarding step", fields...)
}

func (s *Service) createOrganization(ctx context.Context, r *run) error {
	defer r.progress()
	org, err := s.organizations.Create(ctx, orgdomain.CreateOrganizationRequest{
		Name: r.req.OrganizationName,
		Logo: r.req.LogoURL,
	})
	if err != nil {
		r.result.fail(StepCreateOrganization, "Organization creation failed: "+err.Error())
		return err
	}
	orgID, err := orgdomain.ParseID(org.ID)
	if err != nil {
		r.result.fail(StepCreateOrganization, "Organization creation failed: "+err.Error())
		return err
	}
	r.orgID = orgID
	r.orgName = org.Name
	r.result.OrganizationID = org.ID
	r.result.succeed(StepCreateOrganization)
	return nil
}

func (s *Service) zitadelSetup(ctx context.Context, r *run) {
	defer r.progress()
	setup, err := s.identity.SetupForOrganization(ctx, r.orgID, zitadel.SetupRequest{
		OrganizationName: r.orgName,
		SupportEmail:     r.req.SupportEmail,
		FirstName:        r.req.SupportFirstName,
		LastName:         r.req.SupportLastName,
		AppURL:           r.req.AppURL,
		RedirectURIs:     r.req.ZitadelRedirectURIs,
	})
	if setup != nil {
		r.result.ZitadelProjectID = setup.ProjectID
		r.result.ZitadelAppID = setup.AppID
		r.result.ZitadelClientID = setup.ClientID
		r.result.ZitadelUserID = setup.UserID
	}
	if err != nil {
		r.result.fail(StepZitadelSetup, "Zitadel setup failed: "+err.Error())
		return
	}
	r.result.succeed(StepZitadelSetup)
}

func (s *Service) tailscaleSetup(ctx context.Context, r *run) {
	defer r.progress()
	row, err := s.network.SetupIntegration(ctx, r.orgID, tailscale.SetupRequest{
		Tailnet: r.req.Tailnet,
		APIKey:  r.req.TailscaleAPIKey,
	})
	if err != nil {
		r.result.fail(StepTailscaleSetup, "Tailscale setup failed: "+err.Error())
		return
	}
	if row != nil {
		r.result.TailscaleIntegrationID = row.ID.String()
	}
	r.result.succeed(StepTailscaleSetup)
}

func (s *Service) supportProfile(ctx context.Context, r *run) {
	defer r.progress()
	fullName := strings.TrimSpace(r.req.SupportFirstName + " " + r.req.SupportLastName)
	if fullName == "" {
		fullName = r.req.SupportEmail
	}
	profile, err := s.profiles.Create(ctx, profiledomain.CreateProfileRequest{
		OrgID:          r.orgID,
		Email:          r.req.SupportEmail,
		FullName:       fullName,
		Role:           profiledomain.RoleSupport,
		ExternalUserID: r.result.ZitadelUserID,
	})
	if err != nil {
		r.result.fail(StepSupportProfile, "Support profile creation failed: "+err.Error())
		return
	}
	r.profileID = profile.ID
	r.result.SupportProfileID = profile.ID.String()
	r.result.succeed(StepSupportProfile)
}

func (s *Service) invitationToken(ctx context.Context, r *run) {
	defer r.progress()
	if r.profileID == 0 {
		r.result.skip(StepInvitationToken, "no support profile")
		return
	}
	token, err := s.tokens.Generate(ctx, tokendomain.GenerateRequest{
		OrgID:        r.orgID,
		UserID:       r.profileID,
		TokenType:    tokendomain.TokenTypeInvitation,
		ExpiresHours: invitationExpiryHours,
		Metadata: map[string]any{
			"email": r.req.SupportEmail,
			"role":  string(profiledomain.RoleSupport),
		},
	})
	if err != nil {
		r.result.fail(StepInvitationToken, "Invitation token generation failed: "+err.Error())
		return
	}
	r.token = token
	r.result.InvitationTokenID = token.TokenID.String()
	r.result.succeed(StepInvitationToken)
}

func (s *Service) invitationEmail(ctx context.Context, r *run) {
	defer r.progress()
	if r.token == nil {
		r.result.skip(StepInvitationEmail, "no invitation token")
		return
	}
	msg, err := email.BuildInvitation(email.Invitation{
		To:               r.req.SupportEmail,
		RecipientName:    strings.TrimSpace(r.req.SupportFirstName + " " + r.req.SupportLastName),
		OrganizationName: r.orgName,
		Role:             string(profiledomain.RoleSupport),
		AppURL:           r.req.AppURL,
		Token:            r.token.Token,
		ExpiresAt:        r.token.ExpiresAt,
	})
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		r.result.fail(StepInvitationEmail, "Invitation email failed: "+err.Error())
		return
	}
	r.result.succeed(StepInvitationEmail)
}

func (s *Service) tailscaleAuthKey(ctx context.Context, r *run) {
	defer r.progress()
	if r.orgID == 0 {
		r.result.skip(StepTailscaleAuthKey, "no organization")
		return
	}
	keyID, _, err := s.network.IssueInitialAuthKey(ctx, r.orgID, r.req.AuthKeyTags, r.req.AuthKeyExpiry)
	if err != nil {
		r.result.fail(StepTailscaleAuthKey, "Tailscale auth key generation failed: "+err.Error())
		return
	}
	r.result.TailscaleAuthKeyID = keyID
	r.result.succeed(StepTailscaleAuthKey)
}

func (s *Service) auditLog(ctx context.Context, r *run) {
	defer r.progress()
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      r.orgID,
		Action:     "client_onboarded",
		TargetType: "organization",
		TargetID:   r.result.OrganizationID,
		Metadata: map[string]any{
			"organization_name":  r.orgName,
			"zitadel_project_id": r.result.ZitadelProjectID,
			"tailnet":            r.req.Tailnet,
			"support_email":      r.req.SupportEmail,
			"failed_steps":       len(r.result.Errors),
		},
	})
	if err != nil {
		r.result.fail(StepAuditLog, "Audit log failed: "+err.Error())
		return
	}
	r.result.succeed(StepAuditLog)
}

// abort records an unexpected failure. The failure audit entry is best
// effort; its own error is only logged.
func (s *Service) abort(ctx context.Context, r *run, cause error) {
	r.result.Errors = append(r.result.Errors, "Onboarding failed unexpectedly: "+cause.Error())
	r.log.Error("onboarding aborted", zap.Error(cause))

	entry := auditdomain.Entry{
		OrgID:      r.orgID,
		Action:     "client_onboarding_failed",
		TargetType: "organization",
		TargetID:   r.result.OrganizationID,
		Metadata: map[string]any{
			"organization_name": r.req.OrganizationName,
			"error":             cause.Error(),
		},
	}
	if err := s.auditSvc.Record(ctx, entry); err != nil {
		r.log.Warn("failed to record onboarding failure", zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, r *run) {
	r.result.Success = len(r.result.Errors) == 0
	s.stepMetrics.observe(r.result)

	outcome := "success"
	switch {
	case r.result.OrganizationID == "":
		outcome = "failed"
	case !r.result.Success:
		outcome = "partial"
	}
	s.metrics.RecordOnboarding(ctx, outcome)
	r.log.Info("onboarding finished",
		zap.String("org_id", r.result.OrganizationID),
		zap.Bool("success", r.result.Success),
		zap.Int("errors", len(r.result.Errors)),
	)
}
