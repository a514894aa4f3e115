package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/accessportal/internal/authorization"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
)

const rateLimitTokenValidate = "enrollment_token_validate"

// RPC handlers return the bare result value rather than a data envelope.

type storeSecretRequest struct {
	OrgID     snowflake.ID   `json:"org_id"`
	KeyName   string         `json:"key_name"`
	Value     string         `json:"value"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	ExpiresAt *time.Time     `json:"expires_at"`
}

func (s *Server) StoreEncryptedSecret(c *gin.Context) {
	var req storeSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.OrgID == 0 {
		AbortWithError(c, secretdomain.ErrInvalidOrganization)
		return
	}
	if err := s.authorizeForOrg(c, req.OrgID, authorization.ObjectSecret, authorization.ActionSecretStore); err != nil {
		AbortWithError(c, err)
		return
	}

	secretID, err := s.secretSvc.Store(c.Request.Context(), secretdomain.StoreRequest{
		OrgID:      req.OrgID,
		KeyName:    strings.TrimSpace(req.KeyName),
		SecretType: secretdomain.SecretType(strings.TrimSpace(req.Type)),
		Value:      req.Value,
		Metadata:   req.Metadata,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, secretID)
}

type getSecretRequest struct {
	SecretID snowflake.ID `json:"secret_id"`
}

func (s *Server) GetDecryptedSecret(c *gin.Context) {
	var req getSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SecretID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, ok := requestOrgID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if err := s.authorizeForOrg(c, orgID, authorization.ObjectSecret, authorization.ActionSecretRead); err != nil {
		AbortWithError(c, err)
		return
	}

	value, err := s.secretSvc.Retrieve(c.Request.Context(), scopeOrgID(c), req.SecretID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, value)
}

type generateEnrollmentTokenRequest struct {
	OrgID        snowflake.ID   `json:"org_id"`
	UserID       snowflake.ID   `json:"user_id"`
	TokenType    string         `json:"token_type"`
	DeviceType   string         `json:"device_type"`
	ExpiresHours int            `json:"expires_hours"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) GenerateEnrollmentToken(c *gin.Context) {
	var req generateEnrollmentTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.OrgID == 0 {
		AbortWithError(c, tokendomain.ErrInvalidOrganization)
		return
	}
	if err := s.authorizeForOrg(c, req.OrgID, authorization.ObjectEnrollment, authorization.ActionEnrollmentIssue); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.requireOrgMember(c.Request.Context(), req.OrgID, req.UserID); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.tokenSvc.Generate(c.Request.Context(), tokendomain.GenerateRequest{
		OrgID:        req.OrgID,
		UserID:       req.UserID,
		TokenType:    tokendomain.TokenType(strings.TrimSpace(req.TokenType)),
		DeviceType:   strings.TrimSpace(req.DeviceType),
		ExpiresHours: req.ExpiresHours,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type validateEnrollmentTokenRequest struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

// ValidateEnrollmentToken is public so invitation links can be checked
// before the invitee has a session.
func (s *Server) ValidateEnrollmentToken(c *gin.Context) {
	var req validateEnrollmentTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.tokenSvc.Validate(c.Request.Context(), req.Token, tokendomain.TokenType(strings.TrimSpace(req.TokenType)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type markTokenUsedRequest struct {
	TokenID snowflake.ID `json:"token_id"`
}

func (s *Server) MarkTokenUsed(c *gin.Context) {
	var req markTokenUsedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, ok := requestOrgID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if err := s.authorizeForOrg(c, orgID, authorization.ObjectEnrollment, authorization.ActionEnrollmentIssue); err != nil {
		AbortWithError(c, err)
		return
	}

	used, err := s.tokenSvc.MarkUsed(c.Request.Context(), scopeOrgID(c), req.TokenID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, used)
}

// requireOrgMember rejects token requests for a user outside the target organization.
func (s *Server) requireOrgMember(ctx context.Context, orgID, userID snowflake.ID) error {
	if userID == 0 {
		return tokendomain.ErrInvalidUser
	}
	profile, err := s.profileSvc.Get(ctx, userID)
	if errors.Is(err, profiledomain.ErrNotFound) {
		return tokendomain.ErrInvalidUser
	}
	if err != nil {
		return err
	}
	if profile.OrgID != orgID {
		return tokendomain.ErrInvalidUser
	}
	return nil
}
