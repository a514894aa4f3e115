package service

import (
	"context"
	"errors"
	"strings"

	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	"github.com/smallbiznis/accessportal/internal/audit/masking"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/config"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	"github.com/smallbiznis/accessportal/internal/invitation/domain"
	organizationdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Cfg           config.Config
	Profiles      profiledomain.Service
	Tokens        tokendomain.Service
	Organizations organizationdomain.Service
	AuthTokens    authdomain.TokenService
	Mailer        email.Provider
	AuditSvc      auditdomain.Service `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	appURL        string
	profiles      profiledomain.Service
	tokens        tokendomain.Service
	organizations organizationdomain.Service
	authTokens    authdomain.TokenService
	mailer        email.Provider
	auditSvc      auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:           p.Log.Named("invitation.service"),
		appURL:        p.Cfg.AppURL,
		profiles:      p.Profiles,
		tokens:        p.Tokens,
		organizations: p.Organizations,
		authTokens:    p.AuthTokens,
		mailer:        p.Mailer,
		auditSvc:      p.AuditSvc,
	}
}

// Invite creates the profile, issues a single-use invitation token and mails
// the link. A delivery failure is logged and reported through EmailSent.
func (s *Service) Invite(ctx context.Context, req domain.InviteRequest) (*domain.InviteResult, error) {
	if req.Role == "" {
		req.Role = profiledomain.RoleUser
	}
	if req.Role.IsGlobal() {
		return nil, profiledomain.ErrInvalidRole
	}

	profile, err := s.profiles.Create(ctx, profiledomain.CreateProfileRequest{
		OrgID:    req.OrgID,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Generate(ctx, tokendomain.GenerateRequest{
		OrgID:        profile.OrgID,
		UserID:       profile.ID,
		TokenType:    tokendomain.TokenTypeInvitation,
		ExpiresHours: domain.ExpiresHours,
		Metadata: map[string]any{
			"email": profile.Email,
			"role":  string(profile.Role),
		},
	})
	if err != nil {
		return nil, err
	}

	result := &domain.InviteResult{
		ProfileID: profile.ID,
		TokenID:   token.TokenID,
		Email:     profile.Email,
		ExpiresAt: token.ExpiresAt,
	}

	orgName := ""
	if org, err := s.organizations.GetByID(ctx, profile.OrgID.String()); err == nil {
		orgName = org.Name
	}
	msg, err := email.BuildInvitation(email.Invitation{
		To:               profile.Email,
		RecipientName:    profile.FullName,
		OrganizationName: orgName,
		Role:             string(profile.Role),
		AppURL:           s.appURL,
		Token:            token.Token,
		ExpiresAt:        token.ExpiresAt,
	})
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.log.Warn("invitation email not delivered",
			zap.String("profile_id", profile.ID.String()),
			zap.String("email", masking.MaskSecret(profile.Email)),
			zap.Error(err),
		)
	} else {
		result.EmailSent = true
	}

	s.audit(ctx, profile, "invitation.sent", map[string]any{
		"token_id":   token.TokenID.String(),
		"email_sent": result.EmailSent,
	})
	return result, nil
}

func (s *Service) BatchInvite(ctx context.Context, req domain.BatchInviteRequest) (*domain.BatchInviteResult, error) {
	if len(req.Invitations) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	out := &domain.BatchInviteResult{Invited: make([]domain.InviteResult, 0, len(req.Invitations))}
	for _, inv := range req.Invitations {
		inv.OrgID = req.OrgID
		res, err := s.Invite(ctx, inv)
		if err != nil {
			out.Failed = append(out.Failed, domain.InviteError{
				Email: strings.TrimSpace(inv.Email),
				Error: err.Error(),
			})
			continue
		}
		out.Invited = append(out.Invited, *res)
	}
	return out, nil
}

// Accept consumes the invitation token and signs the invitee in.
func (s *Service) Accept(ctx context.Context, token string) (*domain.AcceptResult, error) {
	valid, err := s.tokens.Validate(ctx, token, tokendomain.TokenTypeInvitation)
	if errors.Is(err, tokendomain.ErrInvalidToken) {
		return nil, domain.ErrInvalidInvitation
	}
	if err != nil {
		return nil, err
	}
	if !valid.IsValid {
		return nil, domain.ErrInvalidInvitation
	}

	used, err := s.tokens.MarkUsed(ctx, valid.OrgID, valid.TokenID)
	if err != nil {
		return nil, err
	}
	if !used {
		return nil, domain.ErrInvalidInvitation
	}

	profile, err := s.profiles.Get(ctx, valid.UserID)
	if err != nil {
		return nil, err
	}

	issued, err := s.authTokens.Issue(ctx, authdomain.Principal{
		ProfileID: profile.ID,
		OrgID:     profile.OrgID,
		Role:      profile.Role,
		Email:     profile.Email,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, profile, "invitation.accepted", map[string]any{"token_id": valid.TokenID.String()})
	return &domain.AcceptResult{Profile: profile, Token: issued}, nil
}

func (s *Service) audit(ctx context.Context, profile *profiledomain.Profile, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	entry := auditdomain.Entry{
		OrgID:      profile.OrgID,
		Action:     action,
		TargetType: "profile",
		TargetID:   profile.ID.String(),
		Metadata:   metadata,
	}
	if action == "invitation.accepted" {
		entry.ActorType = auditdomain.ActorTypeUser
		entry.ActorID = profile.ID.String()
	}
	_ = s.auditSvc.Record(ctx, entry)
}
