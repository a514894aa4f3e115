package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	tokenrepo "github.com/smallbiznis/accessportal/internal/enrollmenttoken/repository"
	tokenservice "github.com/smallbiznis/accessportal/internal/enrollmenttoken/service"
	organizationdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/providers/email"
	"github.com/smallbiznis/accessportal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingMailer struct {
	sent []email.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg email.Message) error {
	_ = ctx
	m.sent = append(m.sent, msg)
	return nil
}

func newParams(t *testing.T, adminEmail string) (Params, *recordingMailer) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&organizationdomain.Organization{},
		&profiledomain.Profile{},
		&tokendomain.EnrollmentToken{},
	))
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	tokens := tokenservice.New(tokenservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  tokenrepo.Provide(),
		Clock: clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	mailer := &recordingMailer{}
	return Params{
		DB:  conn,
		Log: zap.NewNop(),
		Cfg: config.Config{
			AppURL: "https://portal.example.com",
			Bootstrap: config.BootstrapConfig{
				OrgName:    "Platform",
				AdminEmail: adminEmail,
				AdminName:  "Root",
			},
		},
		GenID:  node,
		Tokens: tokens,
		Mailer: mailer,
	}, mailer
}

func TestEnsurePlatformAdminSeedsOnce(t *testing.T) {
	p, mailer := newParams(t, "root@example.com")
	ctx := context.Background()

	first, err := EnsurePlatformAdmin(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, first.Invitation)
	require.Len(t, mailer.sent, 1)

	var profile profiledomain.Profile
	require.NoError(t, p.DB.First(&profile, "id = ?", first.ProfileID).Error)
	assert.Equal(t, profiledomain.RoleGlobalAdmin, profile.Role)
	assert.Equal(t, first.OrgID, profile.OrgID)

	var org organizationdomain.Organization
	require.NoError(t, p.DB.First(&org, "id = ?", first.OrgID).Error)
	assert.Equal(t, "platform", org.Slug)

	second, err := EnsurePlatformAdmin(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, mailer.sent, 1)
}

func TestEnsurePlatformAdminSkipsWithoutEmail(t *testing.T) {
	p, mailer := newParams(t, "")

	res, err := EnsurePlatformAdmin(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, mailer.sent)

	var count int64
	require.NoError(t, p.DB.Model(&profiledomain.Profile{}).Count(&count).Error)
	assert.Zero(t, count)
}
