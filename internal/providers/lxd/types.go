package lxd

import (
	"encoding/json"
	"errors"
)

// response is the envelope every LXD endpoint returns.
type response struct {
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Operation  string          `json:"operation"`
	Error      string          `json:"error"`
	ErrorCode  int             `json:"error_code"`
	Metadata   json.RawMessage `json:"metadata"`
}

type Server struct {
	Auth        string `json:"auth"`
	APIVersion  string `json:"api_version"`
	Environment struct {
		ServerName    string `json:"server_name"`
		ServerVersion string `json:"server_version"`
	} `json:"environment"`
}

type Instance struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	StatusCode   int               `json:"status_code"`
	Architecture string            `json:"architecture"`
	Description  string            `json:"description"`
	Profiles     []string          `json:"profiles"`
	Config       map[string]string `json:"config"`
	CreatedAt    string            `json:"created_at"`
	Location     string            `json:"location"`
}

type InstanceSource struct {
	Type     string `json:"type"`
	Alias    string `json:"alias,omitempty"`
	Server   string `json:"server,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

type CreateInstanceRequest struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Source   InstanceSource    `json:"source"`
	Profiles []string          `json:"profiles,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
}

type stateRequest struct {
	Action  string `json:"action"`
	Timeout int    `json:"timeout"`
	Force   bool   `json:"force"`
}

type ExecRequest struct {
	Command     []string          `json:"command"`
	Environment map[string]string `json:"environment,omitempty"`
	WorkingDir  string            `json:"cwd,omitempty"`
}

type execBody struct {
	ExecRequest
	WaitForWebsocket bool `json:"wait-for-websocket"`
	RecordOutput     bool `json:"record-output"`
	Interactive      bool `json:"interactive"`
}

type ExecResult struct {
	ReturnCode int    `json:"return_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// Operation is a background task reported by /1.0/operations.
type Operation struct {
	ID         string         `json:"id"`
	Class      string         `json:"class"`
	Status     string         `json:"status"`
	StatusCode int            `json:"status_code"`
	Err        string         `json:"err"`
	Metadata   map[string]any `json:"metadata"`
}

const (
	statusSuccess = 200
	statusRunning = 103
	statusPending = 105
)

func (o *Operation) done() bool {
	return o.StatusCode != statusRunning && o.StatusCode != statusPending
}

// Credential is the JSON document kept in the secret store.
type Credential struct {
	CertificatePEM string `json:"certificate"`
	PrivateKeyPEM  string `json:"private_key"`
}

type SetupRequest struct {
	ServerName        string
	EndpointURL       string
	ServerCertificate string
	ClientCertificate string
	ClientKey         string
}

// SetupResult returns the client certificate so it can be added to the LXD
// trust store when it was generated here.
type SetupResult struct {
	IntegrationID     string `json:"integration_id"`
	ClientCertificate string `json:"client_certificate"`
	Generated         bool   `json:"generated"`
	Trusted           bool   `json:"trusted"`
}

var (
	ErrInvalidEndpoint     = errors.New("invalid_endpoint")
	ErrInvalidInstanceName = errors.New("invalid_instance_name")
	ErrInvalidCertificate  = errors.New("invalid_certificate")
	ErrEmptyCommand        = errors.New("empty_command")
	ErrOperationFailed     = errors.New("operation_failed")
)
