package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/accessportal/internal/providers/gcp"
	"github.com/smallbiznis/accessportal/internal/providers/lxd"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
)

// -------- Tailscale --------

func (s *Server) ListTailscaleDevices(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	devices, err := s.tailscale.ListDevices(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices})
}

func (s *Server) DeleteTailscaleDevice(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Param("id"))
	if deviceID == "" {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	orgID, _ := requestOrgID(c)

	if err := s.tailscale.DeleteDevice(c.Request.Context(), orgID, deviceID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetTailscaleACL(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	acl, err := s.tailscale.GetACL(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": acl})
}

func (s *Server) UpdateTailscaleACL(c *gin.Context) {
	var acl map[string]any
	if err := c.ShouldBindJSON(&acl); err != nil || len(acl) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	updated, err := s.tailscale.UpdateACL(c.Request.Context(), orgID, acl)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

type createAuthKeyRequest struct {
	Reusable      bool     `json:"reusable"`
	Ephemeral     bool     `json:"ephemeral"`
	Preauthorized bool     `json:"preauthorized"`
	Tags          []string `json:"tags"`
	ExpirySeconds int64    `json:"expiry_seconds"`
	Description   string   `json:"description"`
}

func (s *Server) CreateTailscaleAuthKey(c *gin.Context) {
	var req createAuthKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ExpirySeconds < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	key, err := s.tailscale.CreateAuthKey(c.Request.Context(), orgID, tailscale.AuthKeyRequest{
		Reusable:      req.Reusable,
		Ephemeral:     req.Ephemeral,
		Preauthorized: req.Preauthorized,
		Tags:          req.Tags,
		Expiry:        time.Duration(req.ExpirySeconds) * time.Second,
		Description:   strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, gin.H{"data": key})
}

// -------- GCP --------

func (s *Server) ListGCPInstances(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	instances, err := s.gcp.ListInstances(c.Request.Context(), orgID, strings.TrimSpace(c.Query("zone")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": instances})
}

type createGCPInstanceRequest struct {
	Zone          string            `json:"zone"`
	Name          string            `json:"name"`
	MachineType   string            `json:"machine_type"`
	SourceImage   string            `json:"source_image"`
	DiskSizeGB    int               `json:"disk_size_gb"`
	Network       string            `json:"network"`
	Labels        map[string]string `json:"labels"`
	StartupScript string            `json:"startup_script"`
}

func (s *Server) CreateGCPInstance(c *gin.Context) {
	var req createGCPInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DiskSizeGB < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	op, err := s.gcp.CreateInstance(c.Request.Context(), orgID, gcp.CreateInstanceRequest{
		Zone:          strings.TrimSpace(req.Zone),
		Name:          strings.TrimSpace(req.Name),
		MachineType:   strings.TrimSpace(req.MachineType),
		SourceImage:   strings.TrimSpace(req.SourceImage),
		DiskSizeGB:    req.DiskSizeGB,
		Network:       strings.TrimSpace(req.Network),
		Labels:        req.Labels,
		StartupScript: req.StartupScript,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": op})
}

func (s *Server) StartGCPInstance(c *gin.Context) {
	s.gcpInstanceAction(c, s.gcp.StartInstance)
}

func (s *Server) StopGCPInstance(c *gin.Context) {
	s.gcpInstanceAction(c, s.gcp.StopInstance)
}

func (s *Server) DeleteGCPInstance(c *gin.Context) {
	s.gcpInstanceAction(c, s.gcp.DeleteInstance)
}

type gcpInstanceFunc func(ctx context.Context, orgID snowflake.ID, zone, name string) (*gcp.Operation, error)

func (s *Server) gcpInstanceAction(c *gin.Context, action gcpInstanceFunc) {
	orgID, _ := requestOrgID(c)
	op, err := action(c.Request.Context(), orgID, c.Param("zone"), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": op})
}

// -------- LXD --------

func (s *Server) ListLXDInstances(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	instances, err := s.lxd.ListInstances(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": instances})
}

func (s *Server) CreateLXDInstance(c *gin.Context) {
	var req lxd.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	op, err := s.lxd.CreateInstance(c.Request.Context(), orgID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": op})
}

func (s *Server) StartLXDInstance(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	op, err := s.lxd.StartInstance(c.Request.Context(), orgID, c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": op})
}

func (s *Server) StopLXDInstance(c *gin.Context) {
	force, err := parseOptionalBool(c.Query("force"))
	if err != nil {
		AbortWithError(c, newValidationError("force", "invalid_force", "invalid force"))
		return
	}
	orgID, _ := requestOrgID(c)

	op, err := s.lxd.StopInstance(c.Request.Context(), orgID, c.Param("name"), force != nil && *force)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": op})
}

func (s *Server) DeleteLXDInstance(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	if _, err := s.lxd.DeleteInstance(c.Request.Context(), orgID, c.Param("name")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ExecLXDInstance(c *gin.Context) {
	var req lxd.ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Command) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	result, err := s.lxd.Exec(c.Request.Context(), orgID, c.Param("name"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
