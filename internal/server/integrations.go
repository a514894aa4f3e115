package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/accessportal/internal/providers/gcp"
	"github.com/smallbiznis/accessportal/internal/providers/lxd"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
)

func (s *Server) ListIntegrations(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	items, err := s.integrationSvc.List(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type tailscaleSetupRequest struct {
	Tailnet string `json:"tailnet"`
	APIKey  string `json:"api_key"`
}

func (s *Server) SetupTailscale(c *gin.Context) {
	var req tailscaleSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	integration, err := s.tailscale.SetupIntegration(c.Request.Context(), orgID, tailscale.SetupRequest{
		Tailnet: strings.TrimSpace(req.Tailnet),
		APIKey:  strings.TrimSpace(req.APIKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": integration})
}

type zitadelSetupRequest struct {
	SupportEmail string   `json:"support_email"`
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	AppURL       string   `json:"app_url"`
	RedirectURIs []string `json:"redirect_uris"`
}

// SetupZitadel runs the identity provider sequence for an existing
// organization. On failure the ids created so far are returned next to the
// error so an operator can clean up.
func (s *Server) SetupZitadel(c *gin.Context) {
	var req zitadelSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)
	ctx := c.Request.Context()

	org, err := s.organizationSvc.GetByID(ctx, orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	appURL := strings.TrimSpace(req.AppURL)
	if appURL == "" {
		appURL = s.cfg.AppURL
	}

	result, err := s.zitadel.SetupForOrganization(ctx, orgID, zitadel.SetupRequest{
		OrganizationName: org.Name,
		SupportEmail:     strings.TrimSpace(req.SupportEmail),
		FirstName:        strings.TrimSpace(req.FirstName),
		LastName:         strings.TrimSpace(req.LastName),
		AppURL:           appURL,
		RedirectURIs:     req.RedirectURIs,
	})
	if err != nil {
		status, payload := mapError(err)
		c.AbortWithStatusJSON(status, gin.H{"error": payload, "data": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type gcpSetupRequest struct {
	ServiceAccountJSON string `json:"service_account_json"`
	DefaultZone        string `json:"default_zone"`
}

func (s *Server) SetupGCP(c *gin.Context) {
	var req gcpSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	integration, err := s.gcp.SetupIntegration(c.Request.Context(), orgID, gcp.SetupRequest{
		ServiceAccountJSON: req.ServiceAccountJSON,
		DefaultZone:        strings.TrimSpace(req.DefaultZone),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": integration})
}

type lxdSetupRequest struct {
	ServerName        string `json:"server_name"`
	EndpointURL       string `json:"endpoint_url"`
	ServerCertificate string `json:"server_certificate"`
	ClientCertificate string `json:"client_certificate"`
	ClientKey         string `json:"client_key"`
}

func (s *Server) SetupLXD(c *gin.Context) {
	var req lxdSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	result, err := s.lxd.SetupIntegration(c.Request.Context(), orgID, lxd.SetupRequest{
		ServerName:        strings.TrimSpace(req.ServerName),
		EndpointURL:       strings.TrimSpace(req.EndpointURL),
		ServerCertificate: req.ServerCertificate,
		ClientCertificate: req.ClientCertificate,
		ClientKey:         req.ClientKey,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
