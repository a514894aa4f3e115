package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/accessportal/internal/onboarding"
)

type onboardRequest struct {
	onboarding.Request
	AuthKeyExpiryHours int `json:"auth_key_expiry_hours"`
}

// Onboard provisions a new client organization. Step failures after the
// organization exists still answer 200 with success=false and the per-step
// outcomes.
func (s *Server) Onboard(c *gin.Context) {
	var req onboardRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AuthKeyExpiryHours < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.AuthKeyExpiryHours > 0 {
		req.AuthKeyExpiry = time.Duration(req.AuthKeyExpiryHours) * time.Hour
	}

	result, err := s.onboarding.Onboard(c.Request.Context(), req.Request)
	if err != nil {
		if result == nil {
			AbortWithError(c, err)
			return
		}
		status, payload := mapError(err)
		c.AbortWithStatusJSON(status, gin.H{"error": payload, "data": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
