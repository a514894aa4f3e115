package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/accessportal/internal/authorization"
	devicedomain "github.com/smallbiznis/accessportal/internal/device/domain"
)

const (
	deviceActionGenerateToken = "generate_token"
	deviceActionEnroll        = "enroll"
	deviceActionVerify        = "verify"

	rateLimitDeviceVerify = "device_verify"
)

type deviceActionRequest struct {
	Action      string            `json:"action"`
	Name        string            `json:"name"`
	DeviceType  string            `json:"device_type"`
	Token       string            `json:"token"`
	Fingerprint string            `json:"fingerprint"`
	Attributes  map[string]string `json:"attributes"`
}

// DeviceAction dispatches the enrollment workflow on the action field.
func (s *Server) DeviceAction(c *gin.Context) {
	var req deviceActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if err := s.authorizeForOrg(c, principal.OrgID, authorization.ObjectDevice, authorization.ActionDeviceEnroll); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case deviceActionGenerateToken:
		result, err := s.deviceSvc.GenerateToken(ctx, devicedomain.GenerateTokenRequest{
			OrgID:      principal.OrgID,
			UserID:     principal.ProfileID,
			Name:       strings.TrimSpace(req.Name),
			DeviceType: strings.TrimSpace(req.DeviceType),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})

	case deviceActionEnroll:
		device, err := s.deviceSvc.Enroll(ctx, devicedomain.EnrollRequest{
			OrgID:       principal.OrgID,
			UserID:      principal.ProfileID,
			Fingerprint: req.Fingerprint,
			Attributes:  req.Attributes,
			Name:        strings.TrimSpace(req.Name),
			DeviceType:  strings.TrimSpace(req.DeviceType),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": device})

	case deviceActionVerify:
		res := s.limiter.Allow(ctx, rateLimitDeviceVerify, principal.ProfileID.String())
		if !res.Allowed {
			setRetryAfter(c, res.RetryAfter)
			AbortWithError(c, ErrRateLimited)
			return
		}
		device, err := s.deviceSvc.Verify(ctx, devicedomain.VerifyRequest{
			Token:       req.Token,
			Fingerprint: req.Fingerprint,
			Attributes:  req.Attributes,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": device})

	default:
		AbortWithError(c, newValidationError("action", "invalid_action", "action must be generate_token, enroll or verify"))
	}
}

func (s *Server) ListMyDevices(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	devices, err := s.deviceSvc.List(c.Request.Context(), devicedomain.ListRequest{
		OrgID:  principal.OrgID,
		UserID: principal.ProfileID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices})
}

func (s *Server) GetDeviceStatus(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	deviceID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	device, err := s.deviceSvc.Status(c.Request.Context(), principal.ProfileID, deviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":          device.ID,
		"status":      device.Status,
		"trust_level": device.TrustLevel,
		"last_seen":   device.LastSeen,
	}})
}

func (s *Server) ListOrgDevices(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	userID, err := parseOptionalSnowflakeID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	req := devicedomain.ListRequest{OrgID: orgID}
	if userID != nil {
		req.UserID = *userID
	}
	devices, err := s.deviceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices})
}

func (s *Server) ListDeviceEvents(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	deviceID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	events, err := s.deviceSvc.ListEvents(c.Request.Context(), orgID, deviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (s *Server) ReEnrollDevice(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	deviceID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.deviceSvc.ReEnroll(c.Request.Context(), orgID, deviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RevokeDevice(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	deviceID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.deviceSvc.Revoke(c.Request.Context(), orgID, deviceID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
