// Package zitadel provisions identity projects, OIDC applications and users
// through the Zitadel management API.
package zitadel

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/config"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	"github.com/smallbiznis/accessportal/internal/observability/metrics"
	"github.com/smallbiznis/accessportal/internal/providers/apiclient"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const providerName = "zitadel"

type Params struct {
	fx.In

	Log          *zap.Logger
	Cfg          config.Config
	Settings     *config.ProviderSettingsHolder
	Integrations integrationdomain.Service
	Secrets      secretdomain.Service
	Metrics      *metrics.Metrics `optional:"true"`
	HTTPClient   *http.Client     `name:"provider_http_client" optional:"true"`
}

type Service struct {
	log          *zap.Logger
	cfg          config.Config
	settings     *config.ProviderSettingsHolder
	integrations integrationdomain.Service
	secrets      secretdomain.Service
	metrics      *metrics.Metrics
	httpClient   *http.Client
}

func New(p Params) *Service {
	return &Service{
		log:          p.Log.Named("zitadel.service"),
		cfg:          p.Cfg,
		settings:     p.Settings,
		integrations: p.Integrations,
		secrets:      p.Secrets,
		metrics:      p.Metrics,
		httpClient:   p.HTTPClient,
	}
}

func (s *Service) baseURL() string {
	if override := strings.TrimSpace(s.settings.Get().Zitadel.BaseURL); override != "" {
		return override
	}
	domain := strings.TrimSuffix(strings.TrimPrefix(s.cfg.Zitadel.Domain, "https://"), "/")
	return "https://" + domain
}

// client uses the instance service-account token. Management calls precede
// any per-organization integration, so the token comes from configuration.
func (s *Service) client() (*apiclient.Client, error) {
	if err := s.cfg.RequireZitadel(); err != nil {
		return nil, err
	}
	return apiclient.New(providerName, s.baseURL(),
		apiclient.WithHTTPClient(s.httpClient),
		apiclient.WithTimeout(s.settings.Get().Zitadel.Timeout),
		apiclient.WithAuthorizer(apiclient.Bearer(s.cfg.Zitadel.APIToken)),
		apiclient.WithMetrics(s.metrics),
	), nil
}

func (s *Service) CreateProject(ctx context.Context, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidProjectName
	}
	client, err := s.client()
	if err != nil {
		return nil, err
	}
	var project Project
	body := createProjectBody{Name: name, ProjectRoleAssertion: true, ProjectRoleCheck: true}
	if err := client.Do(ctx, http.MethodPost, "/management/v1/projects", body, &project); err != nil {
		return nil, err
	}
	project.Name = name
	return &project, nil
}

func (s *Service) CreateOIDCApp(ctx context.Context, projectID string, req OIDCAppRequest) (*OIDCApp, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrInvalidProjectID
	}
	client, err := s.client()
	if err != nil {
		return nil, err
	}
	body := createOIDCAppBody{
		Name:                   req.Name,
		RedirectURIs:           req.RedirectURIs,
		PostLogoutRedirectURIs: req.PostLogoutRedirectURIs,
		ResponseTypes:          []string{"OIDC_RESPONSE_TYPE_CODE"},
		GrantTypes:             []string{"OIDC_GRANT_TYPE_AUTHORIZATION_CODE", "OIDC_GRANT_TYPE_REFRESH_TOKEN"},
		AppType:                "OIDC_APP_TYPE_WEB",
		AuthMethodType:         "OIDC_AUTH_METHOD_TYPE_BASIC",
		AccessTokenType:        "OIDC_TOKEN_TYPE_JWT",
	}
	var app OIDCApp
	path := "/management/v1/projects/" + url.PathEscape(projectID) + "/apps/oidc"
	if err := client.Do(ctx, http.MethodPost, path, body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *Service) CreateProjectRole(ctx context.Context, projectID string, role RoleRequest) error {
	if strings.TrimSpace(projectID) == "" {
		return ErrInvalidProjectID
	}
	client, err := s.client()
	if err != nil {
		return err
	}
	path := "/management/v1/projects/" + url.PathEscape(projectID) + "/roles"
	return client.Do(ctx, http.MethodPost, path, role, nil)
}

// ImportHumanUser creates a user with an unverified email and returns its id.
func (s *Service) ImportHumanUser(ctx context.Context, user HumanUser) (string, error) {
	email := strings.TrimSpace(user.Email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	client, err := s.client()
	if err != nil {
		return "", err
	}

	var body importHumanBody
	body.UserName = user.UserName
	if body.UserName == "" {
		body.UserName = email
	}
	body.Profile.FirstName = user.FirstName
	body.Profile.LastName = user.LastName
	body.Profile.DisplayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	body.Email.Email = email

	var resp struct {
		UserID string `json:"userId"`
	}
	if err := client.Do(ctx, http.MethodPost, "/management/v1/users/human/_import", body, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

func (s *Service) AddUserGrant(ctx context.Context, userID, projectID string, roleKeys []string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidUserID
	}
	if strings.TrimSpace(projectID) == "" {
		return "", ErrInvalidProjectID
	}
	client, err := s.client()
	if err != nil {
		return "", err
	}
	var resp struct {
		UserGrantID string `json:"userGrantId"`
	}
	path := "/management/v1/users/" + url.PathEscape(userID) + "/grants"
	if err := client.Do(ctx, http.MethodPost, path, userGrantBody{ProjectID: projectID, RoleKeys: roleKeys}, &resp); err != nil {
		return "", err
	}
	return resp.UserGrantID, nil
}

func (s *Service) ResendEmailVerification(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	client, err := s.client()
	if err != nil {
		return err
	}
	path := "/management/v1/users/" + url.PathEscape(userID) + "/email/_resend_verification"
	return client.Do(ctx, http.MethodPost, path, struct{}{}, nil)
}

// SetupForOrganization provisions the identity side of a new organization.
// Steps run in order without rollback; the first failure is returned as a
// *StepError alongside the ids collected before it.
func (s *Service) SetupForOrganization(ctx context.Context, orgID snowflake.ID, req SetupRequest) (*SetupResult, error) {
	result := &SetupResult{}
	log := s.log.With(zap.String("org_id", orgID.String()))

	fail := func(step string, err error) (*SetupResult, error) {
		log.Warn("zitadel setup stopped", zap.String("step", step), zap.Error(err))
		return result, &StepError{Step: step, Err: err}
	}

	project, err := s.CreateProject(ctx, req.OrganizationName)
	if err != nil {
		return fail(StepProject, err)
	}
	result.ProjectID = project.ID

	redirects := req.RedirectURIs
	appURL := strings.TrimRight(req.AppURL, "/")
	if len(redirects) == 0 && appURL != "" {
		redirects = []string{appURL + "/auth/callback"}
	}
	var logout []string
	if appURL != "" {
		logout = []string{appURL}
	}
	app, err := s.CreateOIDCApp(ctx, result.ProjectID, OIDCAppRequest{
		Name:                   req.OrganizationName + " Portal",
		RedirectURIs:           redirects,
		PostLogoutRedirectURIs: logout,
	})
	if err != nil {
		return fail(StepOIDCApp, err)
	}
	result.AppID = app.AppID
	result.ClientID = app.ClientID

	if err := s.CreateProjectRole(ctx, result.ProjectID, RoleRequest{
		Key:         DefaultRoleKey,
		DisplayName: "Portal user",
		Group:       "portal",
	}); err != nil {
		return fail(StepRole, err)
	}

	userID, err := s.ImportHumanUser(ctx, HumanUser{
		Email:     req.SupportEmail,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return fail(StepImportUser, err)
	}
	result.UserID = userID

	grantID, err := s.AddUserGrant(ctx, result.UserID, result.ProjectID, []string{DefaultRoleKey})
	if err != nil {
		return fail(StepUserGrant, err)
	}
	result.GrantID = grantID

	if err := s.ResendEmailVerification(ctx, result.UserID); err != nil {
		return fail(StepEmailVerification, err)
	}

	if err := s.persist(ctx, orgID, app, result); err != nil {
		return fail(StepPersistIntegration, err)
	}

	log.Info("zitadel setup completed",
		zap.String("project_id", result.ProjectID),
		zap.String("app_id", result.AppID),
		zap.String("user_id", result.UserID),
	)
	return result, nil
}

func (s *Service) persist(ctx context.Context, orgID snowflake.ID, app *OIDCApp, result *SetupResult) error {
	var secretID snowflake.ID
	if app.ClientSecret != "" {
		id, err := s.secrets.Store(ctx, secretdomain.StoreRequest{
			OrgID:      orgID,
			KeyName:    "zitadel_client_secret",
			SecretType: secretdomain.SecretTypePassword,
			Value:      app.ClientSecret,
			Metadata:   map[string]any{"client_id": app.ClientID},
		})
		if err != nil {
			return err
		}
		secretID = id
		result.SecretID = id.String()
	}

	_, err := s.integrations.Upsert(ctx, integrationdomain.UpsertRequest{
		OrgID:       orgID,
		Provider:    integrationdomain.ProviderZitadel,
		ExternalID:  result.ProjectID,
		EndpointURL: s.baseURL(),
		SecretID:    secretID,
		Metadata: map[string]any{
			"app_id":    result.AppID,
			"client_id": result.ClientID,
			"user_id":   result.UserID,
		},
	})
	return err
}
