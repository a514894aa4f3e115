package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
)

// -------- Organizations --------

func (s *Server) GetCurrentOrganization(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	org, err := s.organizationSvc.GetByID(c.Request.Context(), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": org})
}

func (s *Server) ListOrganizations(c *gin.Context) {
	orgs, err := s.organizationSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orgs})
}

// -------- Profiles --------

func (s *Server) ListProfiles(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	profiles, err := s.profileSvc.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profiles})
}

type createProfileRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func (s *Server) CreateProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	role, err := s.assignableRole(c, req.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orgID, _ := requestOrgID(c)
	profile, err := s.profileSvc.Create(c.Request.Context(), profiledomain.CreateProfileRequest{
		OrgID:    orgID,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": profile})
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) UpdateProfileRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	profileID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	role, err := s.assignableRole(c, req.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orgID, _ := requestOrgID(c)
	profile, err := s.profileSvc.UpdateRole(c.Request.Context(), orgID, profileID, role)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profile})
}

// assignableRole parses raw and rejects roles above the caller's own reach.
func (s *Server) assignableRole(c *gin.Context, raw string) (profiledomain.Role, error) {
	if strings.TrimSpace(raw) == "" {
		return profiledomain.RoleUser, nil
	}
	role, err := profiledomain.ParseRole(raw)
	if err != nil {
		return "", err
	}
	principal, ok := principalFromContext(c)
	if !ok {
		return "", ErrUnauthorized
	}
	if role.IsGlobal() && !principal.Role.IsGlobal() {
		return "", ErrForbidden
	}
	return role, nil
}

// -------- Resources --------

func (s *Server) ListResources(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	items, err := s.resourceSvc.ListResources(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreateResource(c *gin.Context) {
	var req resourcedomain.CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID, _ = requestOrgID(c)

	item, err := s.resourceSvc.CreateResource(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) GetResource(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	item, err := s.resourceSvc.GetResource(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) UpdateResource(c *gin.Context) {
	var req resourcedomain.UpdateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.ID = id
	req.OrgID, _ = requestOrgID(c)

	item, err := s.resourceSvc.UpdateResource(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) DeleteResource(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	if err := s.resourceSvc.DeleteResource(c.Request.Context(), orgID, id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type grantRequest struct {
	GroupID snowflake.ID `json:"group_id"`
}

func (s *Server) GrantResource(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.GroupID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	resourceID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	if err := s.resourceSvc.Grant(c.Request.Context(), orgID, resourceID, req.GroupID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RevokeResourceGrant(c *gin.Context) {
	resourceID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	groupID, err := pathID(c, "group_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	if err := s.resourceSvc.RevokeGrant(c.Request.Context(), orgID, resourceID, groupID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// -------- Groups --------

func (s *Server) ListGroups(c *gin.Context) {
	orgID, _ := requestOrgID(c)
	groups, err := s.resourceSvc.ListGroups(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": groups})
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (s *Server) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, _ := requestOrgID(c)

	group, err := s.resourceSvc.CreateGroup(c.Request.Context(), orgID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": group})
}

func (s *Server) DeleteGroup(c *gin.Context) {
	groupID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	if err := s.resourceSvc.DeleteGroup(c.Request.Context(), orgID, groupID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListGroupMembers(c *gin.Context) {
	groupID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	members, err := s.resourceSvc.ListMembers(c.Request.Context(), orgID, groupID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": members})
}

type addMemberRequest struct {
	ProfileID snowflake.ID `json:"profile_id"`
}

func (s *Server) AddGroupMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProfileID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	groupID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	if err := s.resourceSvc.AddMember(c.Request.Context(), orgID, groupID, req.ProfileID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveGroupMember(c *gin.Context) {
	groupID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	profileID, err := pathID(c, "profile_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, _ := requestOrgID(c)

	if err := s.resourceSvc.RemoveMember(c.Request.Context(), orgID, groupID, profileID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
