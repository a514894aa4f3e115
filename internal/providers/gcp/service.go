// Package gcp drives Compute Engine instances with a per-organization
// service account.
package gcp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

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

const (
	providerName = "gcp"
	defaultZone  = "us-central1-a"
)

type Params struct {
	fx.In

	Log          *zap.Logger
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
		log:          p.Log.Named("gcp.service"),
		settings:     p.Settings,
		resolver:     p.Resolver,
		integrations: p.Integrations,
		secrets:      p.Secrets,
		clock:        clk,
		metrics:      p.Metrics,
		httpClient:   p.HTTPClient,
	}
}

type computeClient struct {
	*apiclient.Client
	project     string
	defaultZone string
}

func (s *Service) computeFor(ctx context.Context, orgID snowflake.ID) (*computeClient, error) {
	cred, err := s.resolver.Resolve(ctx, orgID, integrationdomain.ProviderGCP)
	if err != nil {
		return nil, err
	}
	key, err := parseServiceAccount(cred.Secret)
	if err != nil {
		return nil, err
	}
	token, err := s.accessToken(ctx, key)
	if err != nil {
		return nil, err
	}

	zone := defaultZone
	if z, ok := cred.Integration.Metadata["zone"].(string); ok && z != "" {
		zone = z
	}
	project := cred.Integration.ExternalID
	if project == "" {
		project = key.ProjectID
	}

	settings := s.settings.Get().GCP
	return &computeClient{
		Client: apiclient.New(providerName, settings.ComputeBaseURL,
			apiclient.WithHTTPClient(s.httpClient),
			apiclient.WithTimeout(settings.Timeout),
			apiclient.WithAuthorizer(apiclient.Bearer(token)),
			apiclient.WithMetrics(s.metrics),
		),
		project:     project,
		defaultZone: zone,
	}, nil
}

func (c *computeClient) instancesPath(zone string) string {
	if zone == "" {
		zone = c.defaultZone
	}
	return "/projects/" + url.PathEscape(c.project) + "/zones/" + url.PathEscape(zone) + "/instances"
}

func (s *Service) ListInstances(ctx context.Context, orgID snowflake.ID, zone string) ([]Instance, error) {
	c, err := s.computeFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []Instance `json:"items"`
	}
	if err := c.Do(ctx, http.MethodGet, c.instancesPath(zone), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (s *Service) CreateInstance(ctx context.Context, orgID snowflake.ID, req CreateInstanceRequest) (*Operation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidInstanceName
	}
	c, err := s.computeFor(ctx, orgID)
	if err != nil {
		return nil, err
	}

	zone := req.Zone
	if zone == "" {
		zone = c.defaultZone
	}
	machineType := req.MachineType
	if machineType == "" {
		machineType = "e2-medium"
	}
	sourceImage := req.SourceImage
	if sourceImage == "" {
		sourceImage = "projects/debian-cloud/global/images/family/debian-12"
	}
	network := req.Network
	if network == "" {
		network = "global/networks/default"
	}
	diskSize := req.DiskSizeGB
	if diskSize <= 0 {
		diskSize = 20
	}

	body := Instance{
		Name:        name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", zone, machineType),
		Labels:      req.Labels,
		Disks: []AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &DiskInitParams{
				SourceImage: sourceImage,
				DiskSizeGb:  fmt.Sprint(diskSize),
			},
		}},
		NetworkInterfaces: []NetworkInterface{{
			Network:       network,
			AccessConfigs: []AccessConfig{{Name: "External NAT", Type: "ONE_TO_ONE_NAT"}},
		}},
	}
	if req.StartupScript != "" {
		body.Metadata = &InstanceMetadata{Items: []MetadataItem{{Key: "startup-script", Value: req.StartupScript}}}
	}

	var op Operation
	if err := c.Do(ctx, http.MethodPost, c.instancesPath(zone), body, &op); err != nil {
		return nil, err
	}
	s.log.Info("gcp instance create requested",
		zap.String("org_id", orgID.String()),
		zap.String("instance", name),
		zap.String("zone", zone),
		zap.String("operation", op.Name),
	)
	return &op, nil
}

func (s *Service) StartInstance(ctx context.Context, orgID snowflake.ID, zone, name string) (*Operation, error) {
	return s.instanceAction(ctx, orgID, zone, name, http.MethodPost, "/start")
}

func (s *Service) StopInstance(ctx context.Context, orgID snowflake.ID, zone, name string) (*Operation, error) {
	return s.instanceAction(ctx, orgID, zone, name, http.MethodPost, "/stop")
}

func (s *Service) DeleteInstance(ctx context.Context, orgID snowflake.ID, zone, name string) (*Operation, error) {
	return s.instanceAction(ctx, orgID, zone, name, http.MethodDelete, "")
}

func (s *Service) instanceAction(ctx context.Context, orgID snowflake.ID, zone, name, method, suffix string) (*Operation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInstanceName
	}
	c, err := s.computeFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var op Operation
	path := c.instancesPath(zone) + "/" + url.PathEscape(name) + suffix
	if err := c.Do(ctx, method, path, nil, &op); err != nil {
		return nil, err
	}
	s.log.Info("gcp instance operation",
		zap.String("org_id", orgID.String()),
		zap.String("instance", name),
		zap.String("method", method),
		zap.String("action", strings.TrimPrefix(suffix, "/")),
	)
	return &op, nil
}

// SetupIntegration checks the key by exchanging it for a token and then
// stores it.
func (s *Service) SetupIntegration(ctx context.Context, orgID snowflake.ID, req SetupRequest) (*integrationdomain.ProviderIntegration, error) {
	key, err := parseServiceAccount(req.ServiceAccountJSON)
	if err != nil {
		return nil, err
	}
	if _, err := s.accessToken(ctx, key); err != nil {
		return nil, err
	}

	zone := strings.TrimSpace(req.DefaultZone)
	if zone == "" {
		zone = defaultZone
	}

	secretID, err := s.secrets.Store(ctx, secretdomain.StoreRequest{
		OrgID:      orgID,
		KeyName:    "gcp_service_account",
		SecretType: secretdomain.SecretTypeAPIKey,
		Value:      req.ServiceAccountJSON,
		Metadata:   map[string]any{"client_email": key.ClientEmail, "project_id": key.ProjectID},
	})
	if err != nil {
		return nil, err
	}

	return s.integrations.Upsert(ctx, integrationdomain.UpsertRequest{
		OrgID:       orgID,
		Provider:    integrationdomain.ProviderGCP,
		ExternalID:  key.ProjectID,
		EndpointURL: s.settings.Get().GCP.ComputeBaseURL,
		SecretID:    secretID,
		Metadata:    map[string]any{"zone": zone, "client_email": key.ClientEmail},
	})
}
