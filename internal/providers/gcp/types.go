package gcp

import "errors"

// ServiceAccountKey is the JSON key file downloaded for a service account.
type ServiceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

type Instance struct {
	ID                string             `json:"id,omitempty"`
	Name              string             `json:"name"`
	MachineType       string             `json:"machineType,omitempty"`
	Status            string             `json:"status,omitempty"`
	Zone              string             `json:"zone,omitempty"`
	Labels            map[string]string  `json:"labels,omitempty"`
	NetworkInterfaces []NetworkInterface `json:"networkInterfaces,omitempty"`
	Disks             []AttachedDisk     `json:"disks,omitempty"`
	Metadata          *InstanceMetadata  `json:"metadata,omitempty"`
}

type NetworkInterface struct {
	Network       string         `json:"network,omitempty"`
	NetworkIP     string         `json:"networkIP,omitempty"`
	AccessConfigs []AccessConfig `json:"accessConfigs,omitempty"`
}

type AccessConfig struct {
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
	NatIP string `json:"natIP,omitempty"`
}

type AttachedDisk struct {
	Boot             bool            `json:"boot,omitempty"`
	AutoDelete       bool            `json:"autoDelete,omitempty"`
	InitializeParams *DiskInitParams `json:"initializeParams,omitempty"`
}

type DiskInitParams struct {
	SourceImage string `json:"sourceImage,omitempty"`
	DiskSizeGb  string `json:"diskSizeGb,omitempty"`
}

type InstanceMetadata struct {
	Items []MetadataItem `json:"items,omitempty"`
}

type MetadataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Operation is a Compute Engine long-running operation.
type Operation struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	TargetLink string `json:"targetLink,omitempty"`
}

type CreateInstanceRequest struct {
	Zone          string
	Name          string
	MachineType   string
	SourceImage   string
	DiskSizeGB    int
	Network       string
	Labels        map[string]string
	StartupScript string
}

type SetupRequest struct {
	ServiceAccountJSON string
	DefaultZone        string
}

var (
	ErrInvalidServiceAccount = errors.New("invalid_service_account")
	ErrInvalidInstanceName   = errors.New("invalid_instance_name")
	ErrInvalidZone           = errors.New("invalid_zone")
)
