package service

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	auditrepo "github.com/smallbiznis/accessportal/internal/audit/repository"
	auditservice "github.com/smallbiznis/accessportal/internal/audit/service"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/smallbiznis/accessportal/internal/poller"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
	resourcerepo "github.com/smallbiznis/accessportal/internal/resource/repository"
	resourceservice "github.com/smallbiznis/accessportal/internal/resource/service"
	"github.com/smallbiznis/accessportal/internal/session/domain"
	"github.com/smallbiznis/accessportal/internal/session/repository"
	"github.com/smallbiznis/accessportal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const orgID snowflake.ID = 100

type testEnv struct {
	svc       domain.Service
	resources resourcedomain.Service
	db        *gorm.DB
	clock     *clock.FakeClock
	rdp       *resourcedomain.Resource
	wiki      *resourcedomain.Resource
	group     *resourcedomain.Group
}

func newTestEnv(t *testing.T, gateway string) *testEnv {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&resourcedomain.Resource{},
		&resourcedomain.Group{},
		&resourcedomain.GroupMember{},
		&resourcedomain.ResourceGrant{},
		&domain.AccessSession{},
		&auditdomain.AuditLog{},
	))
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	resources := resourceservice.New(resourceservice.Params{DB: conn, Log: log, GenID: node, Repo: resourcerepo.Provide(), Clock: clk})
	settings := config.DefaultProviderSettings()
	settings.Polling = config.PollingSettings{Interval: time.Millisecond, MaxAttempts: 3}

	svc := New(Params{
		DB:  conn,
		Log: log,
		Cfg: config.Config{
			AuthJWTSecret: "session-secret",
			AuthJWTIssuer: "accessportal",
			Session:       config.SessionConfig{GatewayURL: gateway, TTL: 2 * time.Hour},
		},
		Repo:      repository.Provide(),
		Resources: resources,
		Settings:  config.NewStaticProviderSettings(settings),
		Clock:     clk,
		AuditSvc:  auditservice.NewService(auditservice.Params{DB: conn, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: clk}),
	})

	ctx := context.Background()
	rdp, err := resources.CreateResource(ctx, resourcedomain.CreateResourceRequest{
		OrgID:           orgID,
		Name:            "Finance desktop",
		ConnectionTypes: []resourcedomain.ConnectionType{resourcedomain.ConnectionRDP, resourcedomain.ConnectionHTML5},
		Host:            "10.1.0.10",
	})
	require.NoError(t, err)
	wiki, err := resources.CreateResource(ctx, resourcedomain.CreateResourceRequest{
		OrgID:           orgID,
		Name:            "Wiki",
		ConnectionTypes: []resourcedomain.ConnectionType{resourcedomain.ConnectionWeb},
		URL:             "https://wiki.acme.internal/home?lang=en",
	})
	require.NoError(t, err)
	group, err := resources.CreateGroup(ctx, orgID, "finance")
	require.NoError(t, err)
	require.NoError(t, resources.Grant(ctx, orgID, rdp.ID, group.ID))

	return &testEnv{svc: svc, resources: resources, db: conn, clock: clk, rdp: rdp, wiki: wiki, group: group}
}

func user(id snowflake.ID) authdomain.Principal {
	return authdomain.Principal{ProfileID: id, OrgID: orgID, Role: profiledomain.RoleUser}
}

func TestLaunchProxiedSessionThroughGroupGrant(t *testing.T) {
	env := newTestEnv(t, "https://gw.acme.test/")
	ctx := context.Background()
	require.NoError(t, env.resources.AddMember(ctx, orgID, env.group.ID, 7))

	res, err := env.svc.Launch(ctx, domain.LaunchRequest{
		Principal:      user(7),
		ResourceID:     env.rdp.ID,
		ConnectionType: resourcedomain.ConnectionRDP,
	})
	require.NoError(t, err)
	assert.Len(t, res.SessionID, 26)
	assert.Equal(t, env.clock.Now().Add(2*time.Hour), res.ExpiresAt)
	assert.True(t, strings.HasPrefix(res.URL, "https://gw.acme.test/rdp/"+res.SessionID+"?token="))

	var audits int64
	require.NoError(t, env.db.Model(&auditdomain.AuditLog{}).Where("action = ?", "session.launched").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)

	html5, err := env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(7), ResourceID: env.rdp.ID, ConnectionType: "html5"})
	require.NoError(t, err)
	assert.Contains(t, html5.URL, "https://gw.acme.test/html5/")
}

func TestLaunchWebSessionKeepsExistingQuery(t *testing.T) {
	env := newTestEnv(t, "")
	admin := authdomain.Principal{ProfileID: 1, OrgID: orgID, Role: profiledomain.RoleOrgAdmin}

	res, err := env.svc.Launch(context.Background(), domain.LaunchRequest{
		Principal:      admin,
		ResourceID:     env.wiki.ID,
		ConnectionType: resourcedomain.ConnectionWeb,
	})
	require.NoError(t, err)

	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	assert.Equal(t, "wiki.acme.internal", u.Host)
	assert.Equal(t, "en", u.Query().Get("lang"))
	assert.Equal(t, res.Token, u.Query().Get("access_token"))
}

func TestLaunchRejections(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	require.NoError(t, env.resources.AddMember(ctx, orgID, env.group.ID, 7))

	_, err := env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(8), ResourceID: env.rdp.ID, ConnectionType: "rdp"})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(7), ResourceID: env.rdp.ID, ConnectionType: "ssh"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedConnection)

	_, err = env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(7), ResourceID: env.rdp.ID, ConnectionType: "rdp"})
	assert.ErrorIs(t, err, domain.ErrGatewayNotConfigured)

	outsider := authdomain.Principal{ProfileID: 50, OrgID: 200, Role: profiledomain.RoleOrgAdmin}
	_, err = env.svc.Launch(ctx, domain.LaunchRequest{Principal: outsider, ResourceID: env.wiki.ID, ConnectionType: "web"})
	assert.ErrorIs(t, err, resourcedomain.ErrNotFound)

	global := authdomain.Principal{ProfileID: 51, OrgID: 200, Role: profiledomain.RoleGlobalAdmin}
	_, err = env.svc.Launch(ctx, domain.LaunchRequest{Principal: global, ResourceID: env.wiki.ID, ConnectionType: "web"})
	assert.NoError(t, err)
}

func TestValidateMarksConnectedAndEndBlocksReuse(t *testing.T) {
	env := newTestEnv(t, "https://gw.acme.test")
	ctx := context.Background()
	require.NoError(t, env.resources.AddMember(ctx, orgID, env.group.ID, 7))

	launched, err := env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(7), ResourceID: env.rdp.ID, ConnectionType: "rdp"})
	require.NoError(t, err)

	session, err := env.svc.Validate(ctx, launched.Token)
	require.NoError(t, err)
	require.NotNil(t, session.ConnectedAt)

	ready, err := env.svc.WaitReady(ctx, launched.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, ready.ConnectedAt)

	_, err = env.svc.End(ctx, user(8), launched.SessionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ended, err := env.svc.End(ctx, user(7), launched.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, ended.Status)

	_, err = env.svc.Validate(ctx, launched.Token)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)

	_, err = env.svc.End(ctx, user(7), launched.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)

	_, err = env.svc.Validate(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestWaitReadyIsBounded(t *testing.T) {
	env := newTestEnv(t, "https://gw.acme.test")
	ctx := context.Background()
	require.NoError(t, env.resources.AddMember(ctx, orgID, env.group.ID, 7))

	launched, err := env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(7), ResourceID: env.rdp.ID, ConnectionType: "rdp"})
	require.NoError(t, err)

	_, err = env.svc.WaitReady(ctx, launched.SessionID)
	assert.ErrorIs(t, err, poller.ErrExhausted)

	_, err = env.svc.WaitReady(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpiry(t *testing.T) {
	env := newTestEnv(t, "https://gw.acme.test")
	ctx := context.Background()
	require.NoError(t, env.resources.AddMember(ctx, orgID, env.group.ID, 7))

	first, err := env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(7), ResourceID: env.rdp.ID, ConnectionType: "rdp"})
	require.NoError(t, err)
	_, err = env.svc.Launch(ctx, domain.LaunchRequest{Principal: user(7), ResourceID: env.rdp.ID, ConnectionType: "html5"})
	require.NoError(t, err)

	active, err := env.svc.ListActive(ctx, orgID, 7)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	env.clock.Advance(3 * time.Hour)
	_, err = env.svc.Validate(ctx, first.Token)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	n, err := env.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err = env.svc.ListActive(ctx, orgID, 7)
	require.NoError(t, err)
	assert.Empty(t, active)
}
