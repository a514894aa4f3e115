package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/authorization"
	"github.com/smallbiznis/accessportal/internal/config"
	devicedomain "github.com/smallbiznis/accessportal/internal/device/domain"
	"github.com/smallbiznis/accessportal/internal/poller"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userToken        = "user-token"
	orgAdminToken    = "org-admin-token"
	globalAdminToken = "global-admin-token"
)

type fakeTokenService struct {
	principals map[string]authdomain.Principal
}

func (f *fakeTokenService) Issue(ctx context.Context, p authdomain.Principal) (*authdomain.IssuedToken, error) {
	_ = ctx
	return &authdomain.IssuedToken{AccessToken: "reissued-" + p.ProfileID.String(), TokenType: "Bearer"}, nil
}

func (f *fakeTokenService) Parse(ctx context.Context, raw string) (*authdomain.Principal, error) {
	_ = ctx
	p, ok := f.principals[raw]
	if !ok {
		return nil, authdomain.ErrInvalidToken
	}
	return &p, nil
}

type fakeAuthorizer struct {
	err   error
	calls []string
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error {
	_ = ctx
	f.calls = append(f.calls, fmt.Sprintf("%s %s %s.%s", actor, orgID, object, action))
	return f.err
}

type fakeDeviceService struct {
	devicedomain.Service

	verifyCalls int
	listReqs    []devicedomain.ListRequest
}

func (f *fakeDeviceService) Verify(ctx context.Context, req devicedomain.VerifyRequest) (*devicedomain.Device, error) {
	_ = ctx
	_ = req
	f.verifyCalls++
	return &devicedomain.Device{ID: snowflake.ID(900), Status: devicedomain.StatusActive}, nil
}

func (f *fakeDeviceService) List(ctx context.Context, req devicedomain.ListRequest) ([]devicedomain.Device, error) {
	_ = ctx
	f.listReqs = append(f.listReqs, req)
	return []devicedomain.Device{}, nil
}

type testServer struct {
	srv     *Server
	authz   *fakeAuthorizer
	devices *fakeDeviceService
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	tokens := &fakeTokenService{principals: map[string]authdomain.Principal{
		userToken:        {ProfileID: 11, OrgID: 100, Role: profiledomain.RoleUser, Email: "user@example.com"},
		orgAdminToken:    {ProfileID: 12, OrgID: 100, Role: profiledomain.RoleOrgAdmin, Email: "admin@example.com"},
		globalAdminToken: {ProfileID: 13, OrgID: 1, Role: profiledomain.RoleGlobalAdmin, Email: "root@example.com"},
	}}
	authz := &fakeAuthorizer{}
	devices := &fakeDeviceService{}

	srv := NewServer(ServerParams{
		Gin:       engine,
		Cfg:       config.Config{},
		Tokens:    tokens,
		AuthzSvc:  authz,
		Limiter:   limiter,
		DeviceSvc: devices,
	})
	return &testServer{srv: srv, authz: authz, devices: devices}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestAuthRequiredRejectsMissingAndUnknownTokens(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/devices", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodGet, "/api/devices", "bogus", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.devices.listReqs)
}

func TestListMyDevicesScopesToPrincipal(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/devices", userToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.devices.listReqs, 1)
	assert.Equal(t, devicedomain.ListRequest{OrgID: 100, UserID: 11}, ts.devices.listReqs[0])
}

func TestDeviceActionRejectsUnknownAction(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/devices", userToken, gin.H{"action": "explode"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_action", payload.Errors[0].Code)
	assert.Equal(t, "action", payload.Errors[0].Field)
}

func TestDeviceActionDeniedByPolicy(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.authz.err = authorization.ErrForbidden

	rec := ts.do(t, http.MethodPost, "/api/devices", userToken, gin.H{"action": "verify", "token": "abc"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, ts.devices.verifyCalls)
	require.Len(t, ts.authz.calls, 1)
	assert.Equal(t, "profile:11 100 device.device.enroll", ts.authz.calls[0])
}

func TestDeviceVerifyIsRateLimitedPerProfile(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.LimiterParams{
		Cfg: config.Config{RateLimit: config.RateLimitConfig{Enabled: true, VerifyRate: 0.01, VerifyBurst: 1}},
		Log: zap.NewNop(),
	})
	ts := newTestServer(t, limiter)
	body := gin.H{"action": "verify", "token": "abc", "fingerprint": "fp"}

	rec := ts.do(t, http.MethodPost, "/api/devices", userToken, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/devices", userToken, body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)
	assert.Equal(t, 1, ts.devices.verifyCalls)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/admin/devices", userToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.devices.listReqs)
}

func TestOrgContextOverride(t *testing.T) {
	ts := newTestServer(t, nil)
	foreign := map[string]string{HeaderOrg: "200"}

	rec := ts.do(t, http.MethodGet, "/admin/devices", orgAdminToken, nil, foreign)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/devices", orgAdminToken, nil, map[string]string{HeaderOrg: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/devices", globalAdminToken, nil, foreign)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.devices.listReqs, 1)
	assert.Equal(t, snowflake.ID(200), ts.devices.listReqs[0].OrgID)
}

func TestRefreshTokenReissuesForPrincipal(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/auth/refresh", userToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data authdomain.IssuedToken `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "reissued-11", resp.Data.AccessToken)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"wrapped forbidden", fmt.Errorf("authorize: %w", authorization.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"expired enrollment token", devicedomain.ErrTokenExpired, http.StatusGone, "gone"},
		{"expired bearer", authdomain.ErrTokenExpired, http.StatusUnauthorized, "unauthorized"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"missing config", config.ErrMissingConfig, http.StatusServiceUnavailable, "service_unavailable"},
		{"poll exhausted", poller.ErrExhausted, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}
}

func TestMapErrorDerivesValidationField(t *testing.T) {
	status, payload := mapError(profiledomain.ErrInvalidRole)
	require.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_role", payload.Errors[0].Code)
	assert.Equal(t, "role", payload.Errors[0].Field)

	kind, code := classifyErrorForLog(profiledomain.ErrInvalidRole)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_role", code)
}
