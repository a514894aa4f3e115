package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invitationdomain "github.com/smallbiznis/accessportal/internal/invitation/domain"
)

const rateLimitInvitationAccept = "invitation_accept"

type inviteMembersRequest struct {
	Invitations []invitationdomain.InviteRequest `json:"invitations"`
}

// InviteMembers creates one profile per invitation and emails each invitee
// a single-use link. Failures are reported per email.
func (s *Server) InviteMembers(c *gin.Context) {
	var req inviteMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, ok := requestOrgID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.invitationSvc.BatchInvite(c.Request.Context(), invitationdomain.BatchInviteRequest{
		OrgID:       orgID,
		Invitations: req.Invitations,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

func (s *Server) AcceptInvitation(c *gin.Context) {
	var req acceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invitationSvc.Accept(c.Request.Context(), req.Token)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// Me returns the caller's profile.
func (s *Server) Me(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	profile, err := s.profileSvc.Get(c.Request.Context(), principal.ProfileID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"profile":      profile,
		"can_admin":    principal.CanAdminister(principal.OrgID),
		"organization": principal.OrgID,
	}})
}

// RefreshToken reissues a bearer token for the current principal. The role
// is reloaded when the token is parsed, so a demoted user gets a token with
// the new role.
func (s *Server) RefreshToken(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	token, err := s.tokens.Issue(c.Request.Context(), principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": token})
}
