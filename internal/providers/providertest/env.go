// Package providertest wires an in-memory secret store and integration
// service for provider client tests.
package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/config"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	integrationrepo "github.com/smallbiznis/accessportal/internal/integration/repository"
	integrationservice "github.com/smallbiznis/accessportal/internal/integration/service"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
	secretrepo "github.com/smallbiznis/accessportal/internal/secretstore/repository"
	secretservice "github.com/smallbiznis/accessportal/internal/secretstore/service"
	"github.com/smallbiznis/accessportal/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Env struct {
	DB           *gorm.DB
	Node         *snowflake.Node
	Cfg          config.Config
	Secrets      secretdomain.Service
	Integrations *integrationservice.Service
}

func New(t *testing.T) *Env {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&secretdomain.EncryptedSecret{}, &integrationdomain.ProviderIntegration{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	cfg := config.Config{
		AppURL:              "https://portal.test",
		SecretEncryptionKey: "provider-test-key",
		Tailscale:           config.TailscaleConfig{AuthKeyExpiry: 24 * time.Hour},
	}
	log := zap.NewNop()
	secrets := secretservice.New(secretservice.Params{
		DB: conn, Log: log, Cfg: cfg, GenID: node, Repo: secretrepo.Provide(),
	})
	integrations := integrationservice.New(integrationservice.Params{
		DB: conn, Log: log, GenID: node, Repo: integrationrepo.Provide(), Secrets: secrets,
	})
	return &Env{DB: conn, Node: node, Cfg: cfg, Secrets: secrets, Integrations: integrations}
}

// Settings points every provider at baseURL with a short polling interval.
func Settings(baseURL string) *config.ProviderSettingsHolder {
	s := config.DefaultProviderSettings()
	s.Tailscale.BaseURL = baseURL
	s.Zitadel.BaseURL = baseURL
	s.GCP.TokenURL = baseURL + "/token"
	s.GCP.ComputeBaseURL = baseURL + "/compute/v1"
	s.LXD.BaseURL = baseURL
	s.Polling.Interval = time.Millisecond
	s.Polling.MaxAttempts = 5
	return config.NewStaticProviderSettings(s)
}

// Configure stores secret and links it to the provider for orgID.
func (e *Env) Configure(t *testing.T, orgID snowflake.ID, provider integrationdomain.Provider, externalID, endpoint, secret string) {
	t.Helper()
	ctx := context.Background()
	secretID, err := e.Secrets.Store(ctx, secretdomain.StoreRequest{
		OrgID:      orgID,
		KeyName:    string(provider) + "_credential",
		SecretType: secretdomain.SecretTypeAPIKey,
		Value:      secret,
	})
	if err != nil {
		t.Fatalf("store secret: %v", err)
	}
	if _, err := e.Integrations.Upsert(ctx, integrationdomain.UpsertRequest{
		OrgID:       orgID,
		Provider:    provider,
		ExternalID:  externalID,
		EndpointURL: endpoint,
		SecretID:    secretID,
	}); err != nil {
		t.Fatalf("upsert integration: %v", err)
	}
}
