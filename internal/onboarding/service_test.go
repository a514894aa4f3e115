package onboarding

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	auditrepo "github.com/smallbiznis/accessportal/internal/audit/repository"
	auditservice "github.com/smallbiznis/accessportal/internal/audit/service"
	"github.com/smallbiznis/accessportal/internal/config"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	tokenrepo "github.com/smallbiznis/accessportal/internal/enrollmenttoken/repository"
	tokenservice "github.com/smallbiznis/accessportal/internal/enrollmenttoken/service"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	orgdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	orgrepo "github.com/smallbiznis/accessportal/internal/organization/repository"
	orgservice "github.com/smallbiznis/accessportal/internal/organization/service"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	profilerepo "github.com/smallbiznis/accessportal/internal/profile/repository"
	profileservice "github.com/smallbiznis/accessportal/internal/profile/service"
	"github.com/smallbiznis/accessportal/internal/providers/apiclient"
	"github.com/smallbiznis/accessportal/internal/providers/email"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
	"github.com/smallbiznis/accessportal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeIdentity struct {
	err    error
	panics bool
	calls  int
}

func (f *fakeIdentity) SetupForOrganization(ctx context.Context, orgID snowflake.ID, req zitadel.SetupRequest) (*zitadel.SetupResult, error) {
	f.calls++
	if f.panics {
		panic("identity provider exploded")
	}
	if f.err != nil {
		return &zitadel.SetupResult{ProjectID: "proj-1"}, f.err
	}
	return &zitadel.SetupResult{ProjectID: "proj-1", AppID: "app-1", ClientID: "client-1", UserID: "zuser-1"}, nil
}

type fakeNetwork struct {
	setupErr error
	keyErr   error
	keyCalls int
}

func (f *fakeNetwork) SetupIntegration(ctx context.Context, orgID snowflake.ID, req tailscale.SetupRequest) (*integrationdomain.ProviderIntegration, error) {
	if f.setupErr != nil {
		return nil, f.setupErr
	}
	return &integrationdomain.ProviderIntegration{ID: 900, OrgID: orgID, ExternalID: req.Tailnet}, nil
}

func (f *fakeNetwork) IssueInitialAuthKey(ctx context.Context, orgID snowflake.ID, tags []string, expiry time.Duration) (string, snowflake.ID, error) {
	f.keyCalls++
	if f.keyErr != nil {
		return "", 0, f.keyErr
	}
	return "key-123", 901, nil
}

type fakeMailer struct {
	sent []email.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg email.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, auditdomain.Entry) error { return errors.New("audit store down") }

func (failingAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fakeLocker struct {
	held     bool
	released int
}

func (f *fakeLocker) Enabled() bool { return true }

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if f.held {
		return "", false, nil
	}
	return "tok", true, nil
}

func (f *fakeLocker) Release(ctx context.Context, key, token string) error {
	f.released++
	return nil
}

type harness struct {
	db       *gorm.DB
	identity *fakeIdentity
	network  *fakeNetwork
	mailer   *fakeMailer
	params   Params
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&orgdomain.Organization{},
		&profiledomain.Profile{},
		&tokendomain.EnrollmentToken{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	log := zap.NewNop()

	h := &harness{
		db:       conn,
		identity: &fakeIdentity{},
		network:  &fakeNetwork{},
		mailer:   &fakeMailer{},
	}
	h.params = Params{
		Log:           log,
		Cfg:           config.Config{AppURL: "https://portal.default.test"},
		Organizations: orgservice.NewService(orgservice.Params{DB: conn, Log: log, Repo: orgrepo.NewRepository(conn), GenID: node}),
		Profiles:      profileservice.NewService(profileservice.Params{DB: conn, Log: log, GenID: node, Repo: profilerepo.Provide()}),
		Tokens:        tokenservice.New(tokenservice.Params{DB: conn, Log: log, GenID: node, Repo: tokenrepo.Provide()}),
		Identity:      h.identity,
		Network:       h.network,
		Mailer:        h.mailer,
		AuditSvc:      auditservice.NewService(auditservice.Params{DB: conn, Log: log, GenID: node, Repo: auditrepo.Provide()}),
	}
	return h
}

func (h *harness) service() *Service { return New(h.params) }

func (h *harness) auditCount(t *testing.T, action string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).Where("action = ?", action).Count(&count).Error)
	return count
}

func acmeRequest() Request {
	return Request{
		OrganizationName: "Acme",
		SupportEmail:     "a@acme.com",
		SupportFirstName: "Ada",
		SupportLastName:  "Admin",
		Tailnet:          "acme-tailnet",
		TailscaleAPIKey:  "tskey-x",
		AppURL:           "https://portal.acme.com",
	}
}

func outcomes(r *Result) map[string]Outcome {
	out := make(map[string]Outcome, len(r.Steps))
	for _, s := range r.Steps {
		out[s.Step] = s.Outcome
	}
	return out
}

func TestOnboardAllProvidersSucceed(t *testing.T) {
	h := newHarness(t)

	result, err := h.service().Onboard(context.Background(), acmeRequest())
	require.NoError(t, err)
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	assert.NotEmpty(t, result.OrganizationID)
	assert.Equal(t, "proj-1", result.ZitadelProjectID)
	assert.Equal(t, "app-1", result.ZitadelAppID)
	assert.Equal(t, "client-1", result.ZitadelClientID)
	assert.Equal(t, "zuser-1", result.ZitadelUserID)
	assert.Equal(t, "900", result.TailscaleIntegrationID)
	assert.NotEmpty(t, result.SupportProfileID)
	assert.NotEmpty(t, result.InvitationTokenID)
	assert.Equal(t, "key-123", result.TailscaleAuthKeyID)

	require.Len(t, result.Steps, 8)
	for _, step := range result.Steps {
		assert.Equal(t, OutcomeSuccess, step.Outcome, step.Step)
	}
	assert.Equal(t, int64(1), h.auditCount(t, "client_onboarded"))

	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, []string{"a@acme.com"}, h.mailer.sent[0].To)
	assert.Contains(t, h.mailer.sent[0].Text, "https://portal.acme.com/invite?token=")

	var profile profiledomain.Profile
	require.NoError(t, h.db.First(&profile).Error)
	assert.Equal(t, profiledomain.RoleSupport, profile.Role)
}

func TestOnboardTailscaleFailureIsRecordedOnce(t *testing.T) {
	h := newHarness(t)
	h.network.setupErr = &apiclient.APIError{
		Provider:   "tailscale",
		Method:     http.MethodGet,
		Path:       "/tailnet/acme-tailnet/devices",
		StatusCode: http.StatusInternalServerError,
		Body:       "internal error",
	}
	h.network.keyErr = errors.New("tailscale integration not configured")

	result, err := h.service().Onboard(context.Background(), acmeRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 2)
	setupFailures := 0
	for _, msg := range result.Errors {
		if strings.Contains(msg, "Tailscale setup failed") {
			setupFailures++
		}
	}
	assert.Equal(t, 1, setupFailures)
	assert.Contains(t, result.Errors[1], "Tailscale auth key generation failed")
	assert.Equal(t, "proj-1", result.ZitadelProjectID)
	assert.NotEmpty(t, result.OrganizationID)
	assert.Empty(t, result.TailscaleAuthKeyID)

	steps := outcomes(result)
	assert.Equal(t, OutcomeFailed, steps[StepTailscaleSetup])
	assert.Equal(t, OutcomeFailed, steps[StepTailscaleAuthKey])
	assert.Equal(t, OutcomeSuccess, steps[StepInvitationEmail])
	assert.Equal(t, 1, h.network.keyCalls)
	assert.Equal(t, int64(1), h.auditCount(t, "client_onboarded"))
}

func TestOnboardDependentStepsSkipWithoutErrors(t *testing.T) {
	h := newHarness(t)
	req := acmeRequest()
	req.SupportEmail = "not-an-email"

	result, err := h.service().Onboard(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Support profile creation failed")

	steps := outcomes(result)
	assert.Equal(t, OutcomeFailed, steps[StepSupportProfile])
	assert.Equal(t, OutcomeSkipped, steps[StepInvitationToken])
	assert.Equal(t, OutcomeSkipped, steps[StepInvitationEmail])
	assert.Equal(t, OutcomeSuccess, steps[StepTailscaleAuthKey])
	assert.Empty(t, h.mailer.sent)
}

func TestOnboardEverySubsequentStepFails(t *testing.T) {
	h := newHarness(t)
	h.identity.err = errors.New("zitadel unavailable")
	h.network.setupErr = errors.New("tailscale unavailable")
	h.network.keyErr = errors.New("tailscale unavailable")
	h.params.AuditSvc = failingAudit{}
	req := acmeRequest()
	req.SupportEmail = "broken"

	result, err := h.service().Onboard(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.OrganizationID)

	steps := outcomes(result)
	assert.Equal(t, OutcomeSuccess, steps[StepCreateOrganization])
	for _, step := range []string{StepZitadelSetup, StepTailscaleSetup, StepSupportProfile, StepTailscaleAuthKey, StepAuditLog} {
		assert.Equal(t, OutcomeFailed, steps[step], step)
	}
	for _, step := range []string{StepInvitationToken, StepInvitationEmail} {
		assert.Equal(t, OutcomeSkipped, steps[step], step)
	}
	assert.Len(t, result.Errors, 5)
	assert.Equal(t, 1, h.network.keyCalls)
}

func TestOnboardOrganizationFailureAborts(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	_, err := svc.Onboard(context.Background(), acmeRequest())
	require.NoError(t, err)
	h.identity.calls = 0

	result, err := svc.Onboard(context.Background(), acmeRequest())
	require.ErrorIs(t, err, orgdomain.ErrOrganizationExists)
	assert.False(t, result.Success)
	assert.Empty(t, result.OrganizationID)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, OutcomeFailed, result.Steps[0].Outcome)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "Organization creation failed"))
	assert.Zero(t, h.identity.calls)
}

func TestOnboardRecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.identity.panics = true

	result, err := h.service().Onboard(context.Background(), acmeRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.OrganizationID)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "identity provider exploded")
	assert.Equal(t, int64(1), h.auditCount(t, "client_onboarding_failed"))
	assert.Zero(t, h.auditCount(t, "client_onboarded"))
}

func TestOnboardRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	locker := &fakeLocker{held: true}
	h.params.Locker = locker

	_, err := h.service().Onboard(context.Background(), acmeRequest())
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Zero(t, h.identity.calls)

	locker.held = false
	result, err := h.service().Onboard(context.Background(), acmeRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, locker.released)
}

func TestOnboardValidatesRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.service().Onboard(context.Background(), Request{OrganizationName: " "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStepMetricsCountOutcomes(t *testing.T) {
	h := newHarness(t)
	stepMetrics, err := NewStepMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	h.params.StepMetrics = stepMetrics
	h.network.setupErr = errors.New("down")
	h.network.keyErr = errors.New("down")

	_, err = h.service().Onboard(context.Background(), acmeRequest())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(stepMetrics.steps.WithLabelValues(StepTailscaleSetup, string(OutcomeFailed))))
	assert.Equal(t, float64(1), testutil.ToFloat64(stepMetrics.steps.WithLabelValues(StepTailscaleAuthKey, string(OutcomeFailed))))
	assert.Equal(t, float64(1), testutil.ToFloat64(stepMetrics.steps.WithLabelValues(StepCreateOrganization, string(OutcomeSuccess))))
}
