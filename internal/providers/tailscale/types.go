package tailscale

import (
	"errors"
	"time"
)

type AuthKeyRequest struct {
	Reusable      bool
	Ephemeral     bool
	Preauthorized bool
	Tags          []string
	Expiry        time.Duration
	Description   string
}

type AuthKey struct {
	ID      string    `json:"id"`
	Key     string    `json:"key,omitempty"`
	Created time.Time `json:"created"`
	Expires time.Time `json:"expires"`
}

type Device struct {
	ID         string   `json:"id"`
	NodeID     string   `json:"nodeId"`
	Name       string   `json:"name"`
	Hostname   string   `json:"hostname"`
	User       string   `json:"user"`
	OS         string   `json:"os"`
	Addresses  []string `json:"addresses"`
	Authorized bool     `json:"authorized"`
	LastSeen   string   `json:"lastSeen"`
}

type SetupRequest struct {
	Tailnet string
	APIKey  string
}

type keyCapabilities struct {
	Devices struct {
		Create struct {
			Reusable      bool     `json:"reusable"`
			Ephemeral     bool     `json:"ephemeral"`
			Preauthorized bool     `json:"preauthorized"`
			Tags          []string `json:"tags,omitempty"`
		} `json:"create"`
	} `json:"devices"`
}

type createKeyBody struct {
	Capabilities  keyCapabilities `json:"capabilities"`
	ExpirySeconds int64           `json:"expirySeconds,omitempty"`
	Description   string          `json:"description,omitempty"`
}

var (
	ErrInvalidTailnet = errors.New("invalid_tailnet")
	ErrInvalidAPIKey  = errors.New("invalid_api_key")
)
