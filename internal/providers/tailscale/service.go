// Package tailscale manages tailnet auth keys, devices and ACLs.
package tailscale

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	"github.com/smallbiznis/accessportal/internal/observability/metrics"
	"github.com/smallbiznis/accessportal/internal/providers/apiclient"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const providerName = "tailscale"

type Params struct {
	fx.In

	Log          *zap.Logger
	Cfg          config.Config
	Settings     *config.ProviderSettingsHolder
	Resolver     integrationdomain.CredentialResolver
	Integrations integrationdomain.Service
	Secrets      secretdomain.Service
	Clock        clock.Clock      `optional:"true"`
	Metrics      *metrics.Metrics `optional:"true"`
	HTTPClient   *http.Client     `name:"provider_http_client" optional:"true"`
}

type Service struct {
	log          *zap.Logger
	cfg          config.Config
	settings     *config.ProviderSettingsHolder
	resolver     integrationdomain.CredentialResolver
	integrations integrationdomain.Service
	secrets      secretdomain.Service
	clock        clock.Clock
	metrics      *metrics.Metrics
	httpClient   *http.Client
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		log:          p.Log.Named("tailscale.service"),
		cfg:          p.Cfg,
		settings:     p.Settings,
		resolver:     p.Resolver,
		integrations: p.Integrations,
		secrets:      p.Secrets,
		clock:        clk,
		metrics:      p.Metrics,
		httpClient:   p.HTTPClient,
	}
}

func (s *Service) newClient(apiKey string) *apiclient.Client {
	endpoint := s.settings.Get().Tailscale
	return apiclient.New(providerName, endpoint.BaseURL,
		apiclient.WithHTTPClient(s.httpClient),
		apiclient.WithTimeout(endpoint.Timeout),
		apiclient.WithAuthorizer(apiclient.Bearer(apiKey)),
		apiclient.WithMetrics(s.metrics),
	)
}

func (s *Service) clientFor(ctx context.Context, orgID snowflake.ID) (*apiclient.Client, string, error) {
	cred, err := s.resolver.Resolve(ctx, orgID, integrationdomain.ProviderTailscale)
	if err != nil {
		return nil, "", err
	}
	return s.newClient(cred.Secret), cred.Integration.ExternalID, nil
}

func tailnetPath(tailnet, suffix string) string {
	return "/tailnet/" + url.PathEscape(tailnet) + suffix
}

func (s *Service) CreateAuthKey(ctx context.Context, orgID snowflake.ID, req AuthKeyRequest) (*AuthKey, error) {
	client, tailnet, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}

	body := createKeyBody{
		ExpirySeconds: int64(req.Expiry.Seconds()),
		Description:   req.Description,
	}
	body.Capabilities.Devices.Create.Reusable = req.Reusable
	body.Capabilities.Devices.Create.Ephemeral = req.Ephemeral
	body.Capabilities.Devices.Create.Preauthorized = req.Preauthorized
	body.Capabilities.Devices.Create.Tags = req.Tags

	var key AuthKey
	if err := client.Do(ctx, http.MethodPost, tailnetPath(tailnet, "/keys"), body, &key); err != nil {
		return nil, err
	}
	s.log.Info("tailscale auth key created",
		zap.String("org_id", orgID.String()),
		zap.String("key_id", key.ID),
		zap.Bool("reusable", req.Reusable),
	)
	return &key, nil
}

func (s *Service) ListDevices(ctx context.Context, orgID snowflake.ID) ([]Device, error) {
	client, tailnet, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return listDevices(ctx, client, tailnet)
}

func listDevices(ctx context.Context, client *apiclient.Client, tailnet string) ([]Device, error) {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := client.Do(ctx, http.MethodGet, tailnetPath(tailnet, "/devices"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

func (s *Service) DeleteDevice(ctx context.Context, orgID snowflake.ID, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("tailscale: empty device id")
	}
	client, _, err := s.clientFor(ctx, orgID)
	if err != nil {
		return err
	}
	if err := client.Do(ctx, http.MethodDelete, "/device/"+url.PathEscape(deviceID), nil, nil); err != nil {
		return err
	}
	s.log.Info("tailscale device deleted", zap.String("org_id", orgID.String()), zap.String("device_id", deviceID))
	return nil
}

func (s *Service) GetACL(ctx context.Context, orgID snowflake.ID) (map[string]any, error) {
	client, tailnet, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var acl map[string]any
	if err := client.Do(ctx, http.MethodGet, tailnetPath(tailnet, "/acl"), nil, &acl); err != nil {
		return nil, err
	}
	return acl, nil
}

func (s *Service) UpdateACL(ctx context.Context, orgID snowflake.ID, acl map[string]any) (map[string]any, error) {
	client, tailnet, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var updated map[string]any
	if err := client.Do(ctx, http.MethodPost, tailnetPath(tailnet, "/acl"), acl, &updated); err != nil {
		return nil, err
	}
	s.log.Info("tailscale acl updated", zap.String("org_id", orgID.String()))
	return updated, nil
}

// SetupIntegration validates the API key against the tailnet and persists it.
func (s *Service) SetupIntegration(ctx context.Context, orgID snowflake.ID, req SetupRequest) (*integrationdomain.ProviderIntegration, error) {
	tailnet := strings.TrimSpace(req.Tailnet)
	if tailnet == "" {
		return nil, ErrInvalidTailnet
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	if _, err := listDevices(ctx, s.newClient(apiKey), tailnet); err != nil {
		return nil, err
	}

	secretID, err := s.secrets.Store(ctx, secretdomain.StoreRequest{
		OrgID:      orgID,
		KeyName:    "tailscale_api_key",
		SecretType: secretdomain.SecretTypeAPIKey,
		Value:      apiKey,
		Metadata:   map[string]any{"tailnet": tailnet},
	})
	if err != nil {
		return nil, err
	}

	return s.integrations.Upsert(ctx, integrationdomain.UpsertRequest{
		OrgID:       orgID,
		Provider:    integrationdomain.ProviderTailscale,
		ExternalID:  tailnet,
		EndpointURL: s.settings.Get().Tailscale.BaseURL,
		SecretID:    secretID,
	})
}

// IssueInitialAuthKey creates the reusable, preauthorized key handed to new
// clients. The key is kept in the secret store; only its ids are returned.
// A zero expiry uses the configured default.
func (s *Service) IssueInitialAuthKey(ctx context.Context, orgID snowflake.ID, tags []string, expiry time.Duration) (string, snowflake.ID, error) {
	if expiry <= 0 {
		expiry = s.cfg.Tailscale.AuthKeyExpiry
	}
	key, err := s.CreateAuthKey(ctx, orgID, AuthKeyRequest{
		Reusable:      true,
		Preauthorized: true,
		Tags:          tags,
		Expiry:        expiry,
		Description:   "accessportal initial client key",
	})
	if err != nil {
		return "", 0, err
	}

	req := secretdomain.StoreRequest{
		OrgID:      orgID,
		KeyName:    "tailscale_auth_key",
		SecretType: secretdomain.SecretTypeToken,
		Value:      key.Key,
		Metadata:   map[string]any{"key_id": key.ID},
	}
	if !key.Expires.IsZero() {
		expires := key.Expires
		req.ExpiresAt = &expires
	} else if expiry > 0 {
		expires := s.clock.Now().Add(expiry)
		req.ExpiresAt = &expires
	}
	secretID, err := s.secrets.Store(ctx, req)
	if err != nil {
		return key.ID, 0, err
	}
	return key.ID, secretID, nil
}
