package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/accessportal/internal/config"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	organizationdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const invitationExpiryHours = 72

type Params struct {
	fx.In

	DB     *gorm.DB
	Cfg    config.Config
	Log    *zap.Logger
	GenID  *snowflake.Node
	Tokens tokendomain.Service
	Mailer email.Provider
}

// Bootstrap holds what EnsurePlatformAdmin created. Invitation is nil when a
// global admin already existed.
type Bootstrap struct {
	OrgID      snowflake.ID
	ProfileID  snowflake.ID
	Invitation *tokendomain.GenerateResult
}

// EnsurePlatformAdmin seeds the platform organization and its first global
// admin, then mails that admin a single-use invitation. It does nothing once
// any global admin exists.
func EnsurePlatformAdmin(ctx context.Context, p Params) (*Bootstrap, error) {
	if p.DB == nil {
		return nil, errors.New("seed database handle is required")
	}
	adminEmail := strings.ToLower(strings.TrimSpace(p.Cfg.Bootstrap.AdminEmail))
	if adminEmail == "" {
		return nil, nil
	}
	log := p.Log.Named("seed")

	var existing int64
	if err := p.DB.WithContext(ctx).
		Model(&profiledomain.Profile{}).
		Where("role = ?", profiledomain.RoleGlobalAdmin).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, nil
	}

	var result Bootstrap
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensurePlatformOrgTx(ctx, tx, p.GenID, p.Cfg.Bootstrap.OrgName)
		if err != nil {
			return err
		}
		profile := profiledomain.Profile{
			ID:        p.GenID.Generate(),
			OrgID:     org.ID,
			Email:     adminEmail,
			FullName:  p.Cfg.Bootstrap.AdminName,
			Role:      profiledomain.RoleGlobalAdmin,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(&profile).Error; err != nil {
			return err
		}
		result.OrgID = org.ID
		result.ProfileID = profile.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, err := p.Tokens.Generate(ctx, tokendomain.GenerateRequest{
		OrgID:        result.OrgID,
		UserID:       result.ProfileID,
		TokenType:    tokendomain.TokenTypeInvitation,
		ExpiresHours: invitationExpiryHours,
		Metadata: map[string]any{
			"email": adminEmail,
			"role":  string(profiledomain.RoleGlobalAdmin),
		},
	})
	if err != nil {
		return &result, err
	}
	result.Invitation = token

	msg, err := email.BuildInvitation(email.Invitation{
		To:               adminEmail,
		RecipientName:    p.Cfg.Bootstrap.AdminName,
		OrganizationName: p.Cfg.Bootstrap.OrgName,
		Role:             string(profiledomain.RoleGlobalAdmin),
		AppURL:           p.Cfg.AppURL,
		Token:            token.Token,
		ExpiresAt:        token.ExpiresAt,
	})
	if err == nil && p.Mailer != nil {
		err = p.Mailer.Send(ctx, msg)
	}
	if err != nil {
		log.Warn("platform admin invitation not sent", zap.String("profile_id", result.ProfileID.String()), zap.Error(err))
	}

	log.Info("platform admin seeded",
		zap.String("org_id", result.OrgID.String()),
		zap.String("profile_id", result.ProfileID.String()),
		zap.String("invitation_token_id", token.TokenID.String()),
	)
	return &result, nil
}

func ensurePlatformOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, name string) (organizationdomain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Platform"
	}
	orgSlug := slug.Make(name)

	var org organizationdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", orgSlug).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}
	now := time.Now().UTC()
	org = organizationdomain.Organization{
		ID:        node.Generate(),
		Name:      name,
		Slug:      orgSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}
	return org, nil
}
