package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/config"
	obscontext "github.com/smallbiznis/accessportal/internal/observability/context"
	"github.com/smallbiznis/accessportal/internal/orgcontext"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
)

const (
	HeaderOrg        = "X-Org-ID"
	headerRetryAfter = "Retry-After"
)

// corsMiddleware allows the portal front end to call the enrollment and
// session endpoints from the browser.
func corsMiddleware(cfg config.Config) gin.HandlerFunc {
	if len(cfg.CORSOrigins) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", HeaderOrg},
		ExposeHeaders:    []string{"Content-Length", headerRetryAfter},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// AuthRequired resolves the bearer token into a principal and stores it on
// the request context together with the organization and actor.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			AbortWithError(c, authdomain.ErrMissingToken)
			return
		}

		principal, err := s.tokens.Parse(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := authdomain.WithPrincipal(c.Request.Context(), *principal)
		ctx = orgcontext.WithOrgID(ctx, principal.OrgID)
		ctx = obscontext.WithOrgID(ctx, principal.OrgID.String())
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeUser), principal.ProfileID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin gates the admin surface on the role capability check.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !profiledomain.CanAccessAdmin(principal.Role) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func RequireGlobalAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !principal.Role.IsGlobal() {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// OrgContext lets global admins act on another organization through the
// X-Org-ID header. Everyone else stays pinned to their own organization.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			c.Next()
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("organization_id", "invalid_organization", "invalid organization id"))
			return
		}
		if orgID != principal.OrgID && !principal.Role.IsGlobal() {
			AbortWithError(c, ErrForbidden)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (authdomain.Principal, bool) {
	if c == nil || c.Request == nil {
		return authdomain.Principal{}, false
	}
	return authdomain.PrincipalFromContext(c.Request.Context())
}

// requestOrgID is the organization the request acts on.
func requestOrgID(c *gin.Context) (snowflake.ID, bool) {
	if c == nil || c.Request == nil {
		return 0, false
	}
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		return 0, false
	}
	return orgID, true
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func setRetryAfter(c *gin.Context, wait time.Duration) {
	seconds := int(wait.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	c.Header(headerRetryAfter, strconv.Itoa(seconds))
}

// rateLimit throttles endpoint per key. Requests without a key fall back to
// the client address.
func (s *Server) rateLimit(endpoint string, key func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		k := ""
		if key != nil {
			k = key(c)
		}
		if strings.TrimSpace(k) == "" {
			k = c.ClientIP()
		}
		res := s.limiter.Allow(c.Request.Context(), endpoint, k)
		if !res.Allowed {
			setRetryAfter(c, res.RetryAfter)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func principalKey(c *gin.Context) string {
	principal, ok := principalFromContext(c)
	if !ok {
		return ""
	}
	return principal.ProfileID.String()
}
