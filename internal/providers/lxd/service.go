// Package lxd manages instances on an LXD server over mutual TLS. The portal
// holds the client certificate; browsers never reach LXD directly.
package lxd

import (
	"context"
	"encoding/json"
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
	"github.com/smallbiznis/accessportal/internal/poller"
	"github.com/smallbiznis/accessportal/internal/providers/apiclient"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	providerName        = "lxd"
	certificateValidity = 10 * 365 * 24 * time.Hour
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
}

type Service struct {
	log          *zap.Logger
	settings     *config.ProviderSettingsHolder
	resolver     integrationdomain.CredentialResolver
	integrations integrationdomain.Service
	secrets      secretdomain.Service
	clock        clock.Clock
	metrics      *metrics.Metrics
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		log:          p.Log.Named("lxd.service"),
		settings:     p.Settings,
		resolver:     p.Resolver,
		integrations: p.Integrations,
		secrets:      p.Secrets,
		clock:        clk,
		metrics:      p.Metrics,
	}
}

func (s *Service) newClient(endpoint string, cred Credential, serverCert string) (*apiclient.Client, error) {
	transport, err := newTransport(cred, serverCert)
	if err != nil {
		return nil, err
	}
	return apiclient.New(providerName, endpoint,
		apiclient.WithHTTPClient(&http.Client{Transport: transport}),
		apiclient.WithTimeout(s.settings.Get().LXD.Timeout),
		apiclient.WithMetrics(s.metrics),
	), nil
}

func (s *Service) clientFor(ctx context.Context, orgID snowflake.ID) (*apiclient.Client, error) {
	resolved, err := s.resolver.Resolve(ctx, orgID, integrationdomain.ProviderLXD)
	if err != nil {
		return nil, err
	}
	var cred Credential
	if err := json.Unmarshal([]byte(resolved.Secret), &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	serverCert, _ := resolved.Integration.Metadata["server_certificate"].(string)

	endpoint := resolved.Integration.EndpointURL
	if override := s.settings.Get().LXD.BaseURL; override != "" {
		endpoint = override
	}
	return s.newClient(endpoint, cred, serverCert)
}

func call(ctx context.Context, client *apiclient.Client, method, path string, in any) (*response, error) {
	var resp response
	if err := client.Do(ctx, method, path, in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// wait polls an async operation until it leaves the running state.
func (s *Service) wait(ctx context.Context, client *apiclient.Client, resp *response) (*Operation, error) {
	if resp.Type != "async" || resp.Operation == "" {
		return nil, nil
	}
	path := resp.Operation
	op, err := poller.Until(ctx, poller.FromSettings(s.settings.Get().Polling), func(ctx context.Context) (*Operation, bool, error) {
		current, err := call(ctx, client, http.MethodGet, path, nil)
		if err != nil {
			return nil, false, err
		}
		var op Operation
		if err := json.Unmarshal(current.Metadata, &op); err != nil {
			return nil, false, fmt.Errorf("decode operation: %w", err)
		}
		return &op, op.done(), nil
	})
	if err != nil {
		return op, err
	}
	if op.StatusCode != statusSuccess {
		return op, fmt.Errorf("%w: %s", ErrOperationFailed, op.Err)
	}
	return op, nil
}

func instancePath(name string) string {
	return "/1.0/instances/" + url.PathEscape(name)
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidInstanceName
	}
	return name, nil
}

func (s *Service) ListInstances(ctx context.Context, orgID snowflake.ID) ([]Instance, error) {
	client, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, client, http.MethodGet, "/1.0/instances?recursion=1", nil)
	if err != nil {
		return nil, err
	}
	var instances []Instance
	if err := json.Unmarshal(resp.Metadata, &instances); err != nil {
		return nil, fmt.Errorf("decode instances: %w", err)
	}
	return instances, nil
}

func (s *Service) CreateInstance(ctx context.Context, orgID snowflake.ID, req CreateInstanceRequest) (*Operation, error) {
	name, err := validName(req.Name)
	if err != nil {
		return nil, err
	}
	req.Name = name
	if req.Type == "" {
		req.Type = "container"
	}
	if req.Source.Type == "" {
		req.Source = InstanceSource{
			Type:     "image",
			Alias:    "debian/12",
			Server:   "https://images.linuxcontainers.org",
			Protocol: "simplestreams",
		}
	}

	client, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, client, http.MethodPost, "/1.0/instances", req)
	if err != nil {
		return nil, err
	}
	op, err := s.wait(ctx, client, resp)
	if err != nil {
		return op, err
	}
	s.log.Info("lxd instance created", zap.String("org_id", orgID.String()), zap.String("instance", name))
	return op, nil
}

func (s *Service) StartInstance(ctx context.Context, orgID snowflake.ID, name string) (*Operation, error) {
	return s.changeState(ctx, orgID, name, stateRequest{Action: "start", Timeout: 30})
}

func (s *Service) StopInstance(ctx context.Context, orgID snowflake.ID, name string, force bool) (*Operation, error) {
	return s.changeState(ctx, orgID, name, stateRequest{Action: "stop", Timeout: 30, Force: force})
}

func (s *Service) changeState(ctx context.Context, orgID snowflake.ID, name string, req stateRequest) (*Operation, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, client, http.MethodPut, instancePath(name)+"/state", req)
	if err != nil {
		return nil, err
	}
	op, err := s.wait(ctx, client, resp)
	if err != nil {
		return op, err
	}
	s.log.Info("lxd instance state changed",
		zap.String("org_id", orgID.String()),
		zap.String("instance", name),
		zap.String("action", req.Action),
	)
	return op, nil
}

func (s *Service) DeleteInstance(ctx context.Context, orgID snowflake.ID, name string) (*Operation, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, client, http.MethodDelete, instancePath(name), nil)
	if err != nil {
		return nil, err
	}
	op, err := s.wait(ctx, client, resp)
	if err != nil {
		return op, err
	}
	s.log.Info("lxd instance deleted", zap.String("org_id", orgID.String()), zap.String("instance", name))
	return op, nil
}

// Exec runs a non-interactive command and collects its recorded output.
func (s *Service) Exec(ctx context.Context, orgID snowflake.ID, name string, req ExecRequest) (*ExecResult, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	if len(req.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	client, err := s.clientFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, client, http.MethodPost, instancePath(name)+"/exec", execBody{
		ExecRequest:  req,
		RecordOutput: true,
	})
	if err != nil {
		return nil, err
	}
	op, err := s.wait(ctx, client, resp)
	if err != nil {
		return nil, err
	}

	result := &ExecResult{}
	if op == nil {
		return result, nil
	}
	if code, ok := op.Metadata["return"].(float64); ok {
		result.ReturnCode = int(code)
	}
	if output, ok := op.Metadata["output"].(map[string]any); ok {
		result.Stdout = fetchLog(ctx, client, output["1"])
		result.Stderr = fetchLog(ctx, client, output["2"])
	}
	s.log.Info("lxd exec finished",
		zap.String("org_id", orgID.String()),
		zap.String("instance", name),
		zap.Int("return_code", result.ReturnCode),
	)
	return result, nil
}

func fetchLog(ctx context.Context, client *apiclient.Client, path any) string {
	p, ok := path.(string)
	if !ok || p == "" {
		return ""
	}
	var raw []byte
	if err := client.Do(ctx, http.MethodGet, p, nil, &raw); err != nil {
		return ""
	}
	return string(raw)
}

// SetupIntegration stores the client certificate for a server, generating a
// self-signed one when none is supplied, and records whether the server
// already trusts it.
func (s *Service) SetupIntegration(ctx context.Context, orgID snowflake.ID, req SetupRequest) (*SetupResult, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(req.EndpointURL), "/")
	parsed, err := url.Parse(endpoint)
	if endpoint == "" || err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return nil, ErrInvalidEndpoint
	}
	serverName := strings.TrimSpace(req.ServerName)
	if serverName == "" {
		serverName = parsed.Hostname()
	}

	cred := Credential{CertificatePEM: req.ClientCertificate, PrivateKeyPEM: req.ClientKey}
	generated := false
	if strings.TrimSpace(cred.CertificatePEM) == "" {
		fresh, err := GenerateClientCertificate("accessportal-"+orgID.String(), certificateValidity, s.clock.Now())
		if err != nil {
			return nil, err
		}
		cred = *fresh
		generated = true
	}

	client, err := s.newClient(endpoint, cred, req.ServerCertificate)
	if err != nil {
		return nil, err
	}
	resp, err := call(ctx, client, http.MethodGet, "/1.0", nil)
	if err != nil {
		return nil, err
	}
	var server Server
	if err := json.Unmarshal(resp.Metadata, &server); err != nil {
		return nil, fmt.Errorf("decode server: %w", err)
	}

	payload, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	secretID, err := s.secrets.Store(ctx, secretdomain.StoreRequest{
		OrgID:      orgID,
		KeyName:    "lxd_client_certificate",
		SecretType: secretdomain.SecretTypeCertificate,
		Value:      string(payload),
		Metadata:   map[string]any{"server": serverName},
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"trusted": server.Auth == "trusted"}
	if req.ServerCertificate != "" {
		metadata["server_certificate"] = req.ServerCertificate
	}
	row, err := s.integrations.Upsert(ctx, integrationdomain.UpsertRequest{
		OrgID:       orgID,
		Provider:    integrationdomain.ProviderLXD,
		ExternalID:  serverName,
		EndpointURL: endpoint,
		SecretID:    secretID,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	return &SetupResult{
		IntegrationID:     row.ID.String(),
		ClientCertificate: cred.CertificatePEM,
		Generated:         generated,
		Trusted:           server.Auth == "trusted",
	}, nil
}
