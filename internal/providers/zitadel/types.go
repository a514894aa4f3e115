package zitadel

import "errors"

type Project struct {
	ID   string `json:"id"`
	Name string `json:"-"`
}

type OIDCAppRequest struct {
	Name                   string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
}

type OIDCApp struct {
	AppID        string `json:"appId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

type RoleRequest struct {
	Key         string `json:"roleKey"`
	DisplayName string `json:"displayName"`
	Group       string `json:"group,omitempty"`
}

type HumanUser struct {
	UserName  string
	Email     string
	FirstName string
	LastName  string
}

// SetupRequest drives SetupForOrganization.
type SetupRequest struct {
	OrganizationName string
	SupportEmail     string
	FirstName        string
	LastName         string
	AppURL           string
	RedirectURIs     []string
}

// SetupResult holds the ids collected so far. On failure it still carries
// every id obtained before the failing step.
type SetupResult struct {
	ProjectID string
	AppID     string
	ClientID  string
	UserID    string
	GrantID   string
	SecretID  string
}

const (
	StepProject            = "create_project"
	StepOIDCApp            = "create_oidc_app"
	StepRole               = "create_project_role"
	StepImportUser         = "import_human_user"
	StepUserGrant          = "add_user_grant"
	StepEmailVerification  = "resend_email_verification"
	StepPersistIntegration = "persist_integration"
)

// DefaultRoleKey is granted to the imported support user.
const DefaultRoleKey = "portal_user"

var (
	ErrInvalidProjectName = errors.New("invalid_project_name")
	ErrInvalidProjectID   = errors.New("invalid_project_id")
	ErrInvalidUserID      = errors.New("invalid_user_id")
	ErrInvalidEmail       = errors.New("invalid_email")
)

// StepError reports which SetupForOrganization step stopped the sequence.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return "zitadel " + e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

type createProjectBody struct {
	Name                 string `json:"name"`
	ProjectRoleAssertion bool   `json:"projectRoleAssertion"`
	ProjectRoleCheck     bool   `json:"projectRoleCheck"`
}

type createOIDCAppBody struct {
	Name                   string   `json:"name"`
	RedirectURIs           []string `json:"redirectUris"`
	PostLogoutRedirectURIs []string `json:"postLogoutRedirectUris,omitempty"`
	ResponseTypes          []string `json:"responseTypes"`
	GrantTypes             []string `json:"grantTypes"`
	AppType                string   `json:"appType"`
	AuthMethodType         string   `json:"authMethodType"`
	AccessTokenType        string   `json:"accessTokenType"`
	DevMode                bool     `json:"devMode"`
}

type importHumanBody struct {
	UserName string `json:"userName"`
	Profile  struct {
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		DisplayName string `json:"displayName"`
	} `json:"profile"`
	Email struct {
		Email           string `json:"email"`
		IsEmailVerified bool   `json:"isEmailVerified"`
	} `json:"email"`
}

type userGrantBody struct {
	ProjectID string   `json:"projectId"`
	RoleKeys  []string `json:"roleKeys"`
}
