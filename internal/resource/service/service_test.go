package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	profilerepo "github.com/smallbiznis/accessportal/internal/profile/repository"
	profileservice "github.com/smallbiznis/accessportal/internal/profile/service"
	"github.com/smallbiznis/accessportal/internal/resource/domain"
	"github.com/smallbiznis/accessportal/internal/resource/repository"
	"github.com/smallbiznis/accessportal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	svc      domain.Service
	profiles profiledomain.Service
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&profiledomain.Profile{},
		&domain.Resource{},
		&domain.Group{},
		&domain.GroupMember{},
		&domain.ResourceGrant{},
	))
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)

	profiles := profileservice.NewService(profileservice.Params{DB: conn, Log: log, GenID: node, Repo: profilerepo.Provide()})
	svc := New(Params{DB: conn, Log: log, GenID: node, Repo: repository.Provide(), Profiles: profiles})
	return testEnv{svc: svc, profiles: profiles}
}

func (e testEnv) profile(t *testing.T, orgID snowflake.ID, email string) *profiledomain.Profile {
	t.Helper()
	p, err := e.profiles.Create(context.Background(), profiledomain.CreateProfileRequest{
		OrgID:    orgID,
		Email:    email,
		FullName: "Test User",
	})
	require.NoError(t, err)
	return p
}

func TestCreateResourceValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateResourceRequest
		want error
	}{
		{"missing org", domain.CreateResourceRequest{Name: "x", ConnectionTypes: []domain.ConnectionType{"ssh"}, Host: "h"}, domain.ErrInvalidOrganization},
		{"missing name", domain.CreateResourceRequest{OrgID: 1, ConnectionTypes: []domain.ConnectionType{"ssh"}, Host: "h"}, domain.ErrInvalidName},
		{"no types", domain.CreateResourceRequest{OrgID: 1, Name: "x"}, domain.ErrInvalidConnectionType},
		{"unknown type", domain.CreateResourceRequest{OrgID: 1, Name: "x", ConnectionTypes: []domain.ConnectionType{"vnc"}}, domain.ErrInvalidConnectionType},
		{"web without url", domain.CreateResourceRequest{OrgID: 1, Name: "x", ConnectionTypes: []domain.ConnectionType{"web"}}, domain.ErrInvalidURL},
		{"web with bad scheme", domain.CreateResourceRequest{OrgID: 1, Name: "x", ConnectionTypes: []domain.ConnectionType{"web"}, URL: "ftp://files"}, domain.ErrInvalidURL},
		{"ssh without host", domain.CreateResourceRequest{OrgID: 1, Name: "x", ConnectionTypes: []domain.ConnectionType{"ssh"}}, domain.ErrInvalidHost},
		{"bad port", domain.CreateResourceRequest{OrgID: 1, Name: "x", ConnectionTypes: []domain.ConnectionType{"ssh"}, Host: "h", Port: 70000}, domain.ErrInvalidPort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.CreateResource(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateResourceDefaultsPortAndDedupesTypes(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.CreateResource(context.Background(), domain.CreateResourceRequest{
		OrgID:           1,
		Name:            " Jump host ",
		ConnectionTypes: []domain.ConnectionType{"SSH", "ssh", "html5"},
		Host:            "10.0.0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "Jump host", res.Name)
	assert.Equal(t, 22, res.Port)
	assert.Equal(t, []string{"ssh", "html5"}, []string(res.ConnectionTypes))
	assert.True(t, res.Supports(domain.ConnectionHTML5))
	assert.False(t, res.Supports(domain.ConnectionRDP))

	got, err := env.svc.GetResource(context.Background(), 1, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ssh", "html5"}, []string(got.ConnectionTypes))

	_, err = env.svc.GetResource(context.Background(), 2, res.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateAndDeleteResource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.CreateResource(ctx, domain.CreateResourceRequest{
		OrgID:           1,
		Name:            "Wiki",
		ConnectionTypes: []domain.ConnectionType{domain.ConnectionWeb},
		URL:             "https://wiki.acme.internal",
	})
	require.NoError(t, err)

	name := "Team wiki"
	updated, err := env.svc.UpdateResource(ctx, domain.UpdateResourceRequest{OrgID: 1, ID: res.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Team wiki", updated.Name)

	_, err = env.svc.UpdateResource(ctx, domain.UpdateResourceRequest{
		OrgID:           1,
		ID:              res.ID,
		ConnectionTypes: []domain.ConnectionType{domain.ConnectionRDP},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidHost)

	require.NoError(t, env.svc.DeleteResource(ctx, 1, res.ID))
	_, err = env.svc.GetResource(ctx, 1, res.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGroupGrantsDecideAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.profile(t, 1, "alice@acme.test")
	bob := env.profile(t, 1, "bob@acme.test")

	res, err := env.svc.CreateResource(ctx, domain.CreateResourceRequest{
		OrgID:           1,
		Name:            "Build server",
		ConnectionTypes: []domain.ConnectionType{domain.ConnectionRDP},
		Host:            "build.acme.internal",
	})
	require.NoError(t, err)

	group, err := env.svc.CreateGroup(ctx, 1, "engineering")
	require.NoError(t, err)
	require.NoError(t, env.svc.AddMember(ctx, 1, group.ID, alice.ID))
	require.NoError(t, env.svc.AddMember(ctx, 1, group.ID, alice.ID))

	ok, err := env.svc.HasAccess(ctx, alice.ID, res.ID)
	require.NoError(t, err)
	assert.False(t, ok, "membership alone grants nothing")

	require.NoError(t, env.svc.Grant(ctx, 1, res.ID, group.ID))

	ok, err = env.svc.HasAccess(ctx, alice.ID, res.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.svc.HasAccess(ctx, bob.ID, res.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	accessible, err := env.svc.ListAccessible(ctx, 1, alice.ID)
	require.NoError(t, err)
	require.Len(t, accessible, 1)
	assert.Equal(t, res.ID, accessible[0].ID)

	members, err := env.svc.ListMembers(ctx, 1, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	require.NoError(t, env.svc.RevokeGrant(ctx, 1, res.ID, group.ID))
	ok, err = env.svc.HasAccess(ctx, alice.ID, res.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGroupsAreScopedToOrganization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	outsider := env.profile(t, 2, "eve@other.test")
	group, err := env.svc.CreateGroup(ctx, 1, "ops")
	require.NoError(t, err)

	_, err = env.svc.CreateGroup(ctx, 1, "ops")
	assert.ErrorIs(t, err, domain.ErrGroupExists)

	assert.ErrorIs(t, env.svc.AddMember(ctx, 1, group.ID, outsider.ID), domain.ErrProfileNotFound)
	assert.ErrorIs(t, env.svc.AddMember(ctx, 2, group.ID, outsider.ID), domain.ErrGroupNotFound)

	require.NoError(t, env.svc.DeleteGroup(ctx, 1, group.ID))
	groups, err := env.svc.ListGroups(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
