package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/accessportal/internal/authorization"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
	sessiondomain "github.com/smallbiznis/accessportal/internal/session/domain"
)

const (
	rateLimitSessionValidate = "session_validate"
	rateLimitSessionLaunch   = "session_launch"
)

type launchSessionRequest struct {
	ResourceID     snowflake.ID `json:"resource_id"`
	ConnectionType string       `json:"connection_type"`
}

func (s *Server) LaunchSession(c *gin.Context) {
	var req launchSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ResourceID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	connectionType, err := resourcedomain.ParseConnectionType(req.ConnectionType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if err := s.authorizeForOrg(c, principal.OrgID, authorization.ObjectSession, authorization.ActionSessionLaunch); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.sessionSvc.Launch(c.Request.Context(), sessiondomain.LaunchRequest{
		Principal:      principal,
		ResourceID:     req.ResourceID,
		ConnectionType: connectionType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}

type validateSessionRequest struct {
	Token string `json:"token"`
}

// ValidateSession is called by the connection gateway when it redeems a
// session token.
func (s *Server) ValidateSession(c *gin.Context) {
	var req validateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.sessionSvc.Validate(c.Request.Context(), req.Token)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) GetSession(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	session, err := s.sessionSvc.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) EndSession(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	session, err := s.sessionSvc.End(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session})
}

// WaitSessionReady blocks until the gateway connects or polling gives up.
func (s *Server) WaitSessionReady(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()
	if _, err := s.sessionSvc.Get(ctx, principal, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.sessionSvc.WaitReady(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) ListMySessions(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sessions, err := s.sessionSvc.ListActive(c.Request.Context(), principal.OrgID, principal.ProfileID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

func (s *Server) ListOrgSessions(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	profileID, err := parseOptionalSnowflakeID(c.Query("profile_id"))
	if err != nil {
		AbortWithError(c, newValidationError("profile_id", "invalid_profile_id", "invalid profile_id"))
		return
	}

	var filter snowflake.ID
	if profileID != nil {
		filter = *profileID
	}
	sessions, err := s.sessionSvc.ListActive(c.Request.Context(), orgID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

// ListMyResources returns the resources the caller can launch.
func (s *Server) ListMyResources(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ctx := c.Request.Context()
	var (
		items []resourcedomain.Resource
		err   error
	)
	if principal.CanAdminister(principal.OrgID) {
		items, err = s.resourceSvc.ListResources(ctx, principal.OrgID)
	} else {
		items, err = s.resourceSvc.ListAccessible(ctx, principal.OrgID, principal.ProfileID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}
