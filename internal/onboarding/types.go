package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
)

type Request struct {
	OrganizationName    string        `json:"organization_name"`
	LogoURL             string        `json:"logo_url,omitempty"`
	SupportEmail        string        `json:"support_email"`
	SupportFirstName    string        `json:"support_first_name"`
	SupportLastName     string        `json:"support_last_name"`
	Tailnet             string        `json:"tailnet"`
	TailscaleAPIKey     string        `json:"tailscale_api_key"`
	AppURL              string        `json:"app_url"`
	ZitadelRedirectURIs []string      `json:"zitadel_redirect_uris,omitempty"`
	AuthKeyExpiry       time.Duration `json:"-"`
	AuthKeyTags         []string      `json:"auth_key_tags,omitempty"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

const (
	StepCreateOrganization = "create_organization"
	StepZitadelSetup       = "zitadel_setup"
	StepTailscaleSetup     = "tailscale_setup"
	StepSupportProfile     = "support_profile"
	StepInvitationToken    = "invitation_token"
	StepInvitationEmail    = "invitation_email"
	StepTailscaleAuthKey   = "tailscale_auth_key"
	StepAuditLog           = "audit_log"
)

type StepResult struct {
	Step    string  `json:"step"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Result is returned even when steps fail. Errors holds one message per
// failed step; skipped steps never add to it.
type Result struct {
	Success                bool         `json:"success"`
	OrganizationID         string       `json:"organization_id,omitempty"`
	ZitadelProjectID       string       `json:"zitadel_project_id,omitempty"`
	ZitadelAppID           string       `json:"zitadel_app_id,omitempty"`
	ZitadelClientID        string       `json:"zitadel_client_id,omitempty"`
	ZitadelUserID          string       `json:"zitadel_user_id,omitempty"`
	TailscaleIntegrationID string       `json:"tailscale_integration_id,omitempty"`
	SupportProfileID       string       `json:"support_profile_id,omitempty"`
	InvitationTokenID      string       `json:"invitation_token_id,omitempty"`
	TailscaleAuthKeyID     string       `json:"tailscale_auth_key_id,omitempty"`
	Steps                  []StepResult `json:"steps"`
	Errors                 []string     `json:"errors"`
}

func (r *Result) succeed(step string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: OutcomeSuccess})
}

func (r *Result) skip(step, reason string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: OutcomeSkipped, Reason: reason})
}

func (r *Result) fail(step, message string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: OutcomeFailed, Reason: message})
	r.Errors = append(r.Errors, message)
}

// Step returns the recorded outcome of step, if it ran.
func (r *Result) Step(step string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepResult{}, false
}

// IdentityProvisioner sets up the identity provider for a new organization.
type IdentityProvisioner interface {
	SetupForOrganization(ctx context.Context, orgID snowflake.ID, req zitadel.SetupRequest) (*zitadel.SetupResult, error)
}

// NetworkProvisioner links the organization's tailnet and issues client keys.
type NetworkProvisioner interface {
	SetupIntegration(ctx context.Context, orgID snowflake.ID, req tailscale.SetupRequest) (*integrationdomain.ProviderIntegration, error)
	IssueInitialAuthKey(ctx context.Context, orgID snowflake.ID, tags []string, expiry time.Duration) (string, snowflake.ID, error)
}

type Locker interface {
	Enabled() bool
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

var (
	ErrInvalidRequest = errors.New("invalid_onboarding_request")
	ErrInProgress     = errors.New("onboarding_in_progress")
)
