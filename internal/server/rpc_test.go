package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	tokenrepo "github.com/smallbiznis/accessportal/internal/enrollmenttoken/repository"
	tokenservice "github.com/smallbiznis/accessportal/internal/enrollmenttoken/service"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProfileService struct {
	profiledomain.Service

	profiles map[snowflake.ID]profiledomain.Profile
}

func (f *fakeProfileService) Get(ctx context.Context, id snowflake.ID) (*profiledomain.Profile, error) {
	_ = ctx
	p, ok := f.profiles[id]
	if !ok {
		return nil, profiledomain.ErrNotFound
	}
	return &p, nil
}

type rpcTestServer struct {
	*testServer
	tokens tokendomain.Service
}

func newRPCTestServer(t *testing.T) *rpcTestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&tokendomain.EnrollmentToken{}))
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	tokenSvc := tokenservice.New(tokenservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  tokenrepo.Provide(),
		Clock: clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	tokens := &fakeTokenService{principals: map[string]authdomain.Principal{
		orgAdminToken:    {ProfileID: 12, OrgID: 100, Role: profiledomain.RoleOrgAdmin, Email: "admin@example.com"},
		globalAdminToken: {ProfileID: 13, OrgID: 1, Role: profiledomain.RoleGlobalAdmin, Email: "root@example.com"},
	}}
	profiles := &fakeProfileService{profiles: map[snowflake.ID]profiledomain.Profile{
		21: {ID: 21, OrgID: 100, Role: profiledomain.RoleUser},
		31: {ID: 31, OrgID: 999, Role: profiledomain.RoleUser},
	}}
	authz := &fakeAuthorizer{}

	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        config.Config{},
		Tokens:     tokens,
		AuthzSvc:   authz,
		TokenSvc:   tokenSvc,
		ProfileSvc: profiles,
	})
	return &rpcTestServer{testServer: &testServer{srv: srv, authz: authz}, tokens: tokenSvc}
}

func TestMarkTokenUsedIgnoresForeignOrganizationTokens(t *testing.T) {
	ts := newRPCTestServer(t)
	ctx := context.Background()

	foreign, err := ts.tokens.Generate(ctx, tokendomain.GenerateRequest{OrgID: 999, UserID: 31, TokenType: tokendomain.TokenTypeInvitation})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/rpc/mark_token_used", orgAdminToken, gin.H{"token_id": foreign.TokenID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var used bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &used))
	assert.False(t, used)

	v, err := ts.tokens.Validate(ctx, foreign.Token, tokendomain.TokenTypeInvitation)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
}

func TestMarkTokenUsedConsumesOwnOrganizationToken(t *testing.T) {
	ts := newRPCTestServer(t)

	own, err := ts.tokens.Generate(context.Background(), tokendomain.GenerateRequest{OrgID: 100, UserID: 21, TokenType: tokendomain.TokenTypeDevice})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/rpc/mark_token_used", orgAdminToken, gin.H{"token_id": own.TokenID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var used bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &used))
	assert.True(t, used)
}

func TestGenerateEnrollmentTokenRequiresMemberOfOrganization(t *testing.T) {
	ts := newRPCTestServer(t)

	rec := ts.do(t, http.MethodPost, "/rpc/generate_enrollment_token", orgAdminToken,
		gin.H{"org_id": "100", "user_id": "31", "token_type": "device"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPost, "/rpc/generate_enrollment_token", orgAdminToken,
		gin.H{"org_id": "100", "user_id": "404", "token_type": "device"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rpc/generate_enrollment_token", orgAdminToken,
		gin.H{"org_id": "100", "user_id": "21", "token_type": "device"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result tokendomain.GenerateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.Token)
}
