package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	auditrepo "github.com/smallbiznis/accessportal/internal/audit/repository"
	auditservice "github.com/smallbiznis/accessportal/internal/audit/service"
	authservice "github.com/smallbiznis/accessportal/internal/auth/service"
	"github.com/smallbiznis/accessportal/internal/config"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	tokenrepo "github.com/smallbiznis/accessportal/internal/enrollmenttoken/repository"
	tokenservice "github.com/smallbiznis/accessportal/internal/enrollmenttoken/service"
	"github.com/smallbiznis/accessportal/internal/invitation/domain"
	orgdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	orgrepo "github.com/smallbiznis/accessportal/internal/organization/repository"
	orgservice "github.com/smallbiznis/accessportal/internal/organization/service"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	profilerepo "github.com/smallbiznis/accessportal/internal/profile/repository"
	profileservice "github.com/smallbiznis/accessportal/internal/profile/service"
	"github.com/smallbiznis/accessportal/internal/providers/email"
	"github.com/smallbiznis/accessportal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

type recordingMailer struct {
	sent []email.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg email.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type testEnv struct {
	svc    domain.Service
	db     *gorm.DB
	mailer *recordingMailer
	orgID  snowflake.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&orgdomain.Organization{},
		&profiledomain.Profile{},
		&tokendomain.EnrollmentToken{},
		&auditdomain.AuditLog{},
	))
	node, err := snowflake.NewNode(11)
	require.NoError(t, err)
	log := zap.NewNop()
	cfg := config.Config{
		AppURL:        "https://portal.acme.test",
		AuthJWTSecret: "invite-secret",
		AuthJWTIssuer: "accessportal",
		AuthTokenTTL:  time.Hour,
	}

	orgs := orgservice.NewService(orgservice.Params{DB: conn, Log: log, Repo: orgrepo.NewRepository(conn), GenID: node})
	org, err := orgs.Create(context.Background(), orgdomain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	orgID, err := orgdomain.ParseID(org.ID)
	require.NoError(t, err)

	profiles := profileservice.NewService(profileservice.Params{DB: conn, Log: log, GenID: node, Repo: profilerepo.Provide()})
	mailer := &recordingMailer{}
	svc := New(Params{
		Log:           log,
		Cfg:           cfg,
		Profiles:      profiles,
		Tokens:        tokenservice.New(tokenservice.Params{DB: conn, Log: log, GenID: node, Repo: tokenrepo.Provide()}),
		Organizations: orgs,
		AuthTokens:    authservice.NewTokenService(authservice.Params{Cfg: cfg, Log: log, Profiles: profiles}),
		Mailer:        mailer,
		AuditSvc:      auditservice.NewService(auditservice.Params{DB: conn, Log: log, GenID: node, Repo: auditrepo.Provide()}),
	})
	return &testEnv{svc: svc, db: conn, mailer: mailer, orgID: orgID}
}

func (e *testEnv) lastToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, e.mailer.sent)
	m := tokenPattern.FindStringSubmatch(e.mailer.sent[len(e.mailer.sent)-1].Text)
	require.Len(t, m, 2)
	return m[1]
}

func TestInviteMailsLinkAndAcceptSignsIn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:    env.orgID,
		Email:    "new.hire@acme.test",
		FullName: "New Hire",
	})
	require.NoError(t, err)
	assert.True(t, res.EmailSent)
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, []string{"new.hire@acme.test"}, env.mailer.sent[0].To)
	assert.Contains(t, env.mailer.sent[0].Text, "https://portal.acme.test/invite?token=")

	accepted, err := env.svc.Accept(ctx, env.lastToken(t))
	require.NoError(t, err)
	assert.Equal(t, res.ProfileID, accepted.Profile.ID)
	assert.Equal(t, profiledomain.RoleUser, accepted.Profile.Role)
	assert.NotEmpty(t, accepted.Token.AccessToken)

	var audits int64
	require.NoError(t, env.db.Model(&auditdomain.AuditLog{}).Where("action = ?", "invitation.accepted").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestAcceptIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Invite(ctx, domain.InviteRequest{OrgID: env.orgID, Email: "once@acme.test", FullName: "Once"})
	require.NoError(t, err)
	token := env.lastToken(t)

	_, err = env.svc.Accept(ctx, token)
	require.NoError(t, err)
	_, err = env.svc.Accept(ctx, token)
	assert.ErrorIs(t, err, domain.ErrInvalidInvitation)

	_, err = env.svc.Accept(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInvitation)
}

func TestInviteSurvivesMailFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("relay down")

	res, err := env.svc.Invite(context.Background(), domain.InviteRequest{OrgID: env.orgID, Email: "x@acme.test", FullName: "X"})
	require.NoError(t, err)
	assert.False(t, res.EmailSent)
	assert.NotZero(t, res.TokenID)
}

func TestInviteRejectsGlobalAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Invite(context.Background(), domain.InviteRequest{
		OrgID:    env.orgID,
		Email:    "root@acme.test",
		FullName: "Root",
		Role:     profiledomain.RoleGlobalAdmin,
	})
	assert.ErrorIs(t, err, profiledomain.ErrInvalidRole)
}

func TestBatchInviteCollectsFailures(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.BatchInvite(context.Background(), domain.BatchInviteRequest{
		OrgID: env.orgID,
		Invitations: []domain.InviteRequest{
			{Email: "a@acme.test", FullName: "A"},
			{Email: "not-an-email", FullName: "B"},
			{Email: "a@acme.test", FullName: "A again"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Invited, 1)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, profiledomain.ErrInvalidEmail.Error(), res.Failed[0].Error)
	assert.Equal(t, profiledomain.ErrProfileExists.Error(), res.Failed[1].Error)

	_, err = env.svc.BatchInvite(context.Background(), domain.BatchInviteRequest{OrgID: env.orgID})
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
}
