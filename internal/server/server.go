package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/authorization"
	"github.com/smallbiznis/accessportal/internal/config"
	devicedomain "github.com/smallbiznis/accessportal/internal/device/domain"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	invitationdomain "github.com/smallbiznis/accessportal/internal/invitation/domain"
	"github.com/smallbiznis/accessportal/internal/observability"
	obsmiddleware "github.com/smallbiznis/accessportal/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/accessportal/internal/observability/metrics"
	obstracing "github.com/smallbiznis/accessportal/internal/observability/tracing"
	"github.com/smallbiznis/accessportal/internal/onboarding"
	organizationdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/providers/gcp"
	"github.com/smallbiznis/accessportal/internal/providers/lxd"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
	"github.com/smallbiznis/accessportal/internal/ratelimit"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
	sessiondomain "github.com/smallbiznis/accessportal/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(corsMiddleware(cfg))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	tokens          authdomain.TokenService
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	limiter         *ratelimit.Limiter
	deviceSvc       devicedomain.Service
	tokenSvc        tokendomain.Service
	secretSvc       secretdomain.Service
	sessionSvc      sessiondomain.Service
	resourceSvc     resourcedomain.Service
	invitationSvc   invitationdomain.Service
	profileSvc      profiledomain.Service
	organizationSvc organizationdomain.Service
	integrationSvc  integrationdomain.Service
	onboarding      *onboarding.Service
	tailscale       *tailscale.Service
	zitadel         *zitadel.Service
	gcp             *gcp.Service
	lxd             *lxd.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Tokens          authdomain.TokenService
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	Limiter         *ratelimit.Limiter `optional:"true"`
	DeviceSvc       devicedomain.Service
	TokenSvc        tokendomain.Service
	SecretSvc       secretdomain.Service
	SessionSvc      sessiondomain.Service
	ResourceSvc     resourcedomain.Service
	InvitationSvc   invitationdomain.Service
	ProfileSvc      profiledomain.Service
	OrganizationSvc organizationdomain.Service
	IntegrationSvc  integrationdomain.Service
	Onboarding      *onboarding.Service
	Tailscale       *tailscale.Service
	Zitadel         *zitadel.Service
	GCP             *gcp.Service
	LXD             *lxd.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		tokens:          p.Tokens,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		limiter:         p.Limiter,
		deviceSvc:       p.DeviceSvc,
		tokenSvc:        p.TokenSvc,
		secretSvc:       p.SecretSvc,
		sessionSvc:      p.SessionSvc,
		resourceSvc:     p.ResourceSvc,
		invitationSvc:   p.InvitationSvc,
		profileSvc:      p.ProfileSvc,
		organizationSvc: p.OrganizationSvc,
		integrationSvc:  p.IntegrationSvc,
		onboarding:      p.Onboarding,
		tailscale:       p.Tailscale,
		zitadel:         p.Zitadel,
		gcp:             p.GCP,
		lxd:             p.LXD,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerRPCRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/invitations/accept", s.rateLimit(rateLimitInvitationAccept, nil), s.AcceptInvitation)
	auth.POST("/refresh", s.AuthRequired(), s.RefreshToken)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// called by the connection gateway, authenticated by the session token itself
	api.POST("/sessions/validate", s.rateLimit(rateLimitSessionValidate, nil), s.ValidateSession)

	me := api.Group("", s.AuthRequired())

	// -------- Devices --------
	me.POST("/devices", s.DeviceAction)
	me.GET("/devices", s.ListMyDevices)
	me.GET("/devices/:id/status", s.GetDeviceStatus)

	// -------- Resources --------
	me.GET("/resources", s.ListMyResources)

	// -------- Sessions --------
	me.POST("/sessions", s.rateLimit(rateLimitSessionLaunch, principalKey), s.LaunchSession)
	me.GET("/sessions", s.ListMySessions)
	me.GET("/sessions/:id", s.GetSession)
	me.GET("/sessions/:id/ready", s.WaitSessionReady)
	me.POST("/sessions/:id/end", s.EndSession)
}

func (s *Server) registerRPCRoutes() {
	rpc := s.engine.Group("/rpc")

	rpc.POST("/validate_enrollment_token", s.rateLimit(rateLimitTokenValidate, nil), s.ValidateEnrollmentToken)

	authed := rpc.Group("", s.AuthRequired(), OrgContext())
	authed.POST("/store_encrypted_secret", s.StoreEncryptedSecret)
	authed.POST("/get_decrypted_secret", s.GetDecryptedSecret)
	authed.POST("/generate_enrollment_token", s.GenerateEnrollmentToken)
	authed.POST("/mark_token_used", s.MarkTokenUsed)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// --- global middlewares ---
	admin.Use(s.AuthRequired())
	admin.Use(RequireAdmin())
	admin.Use(OrgContext())

	// -------- Organizations --------
	admin.GET("/organization", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionView), s.GetCurrentOrganization)
	admin.GET("/organizations", RequireGlobalAdmin(), s.ListOrganizations)
	admin.POST("/onboarding", RequireGlobalAdmin(), s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionOrganizationOnboard), s.Onboard)

	// -------- Profiles --------
	admin.GET("/profiles", s.authorizeOrgAction(authorization.ObjectProfile, authorization.ActionView), s.ListProfiles)
	admin.POST("/profiles", s.authorizeOrgAction(authorization.ObjectProfile, authorization.ActionManage), s.CreateProfile)
	admin.PATCH("/profiles/:id/role", s.authorizeOrgAction(authorization.ObjectProfile, authorization.ActionManage), s.UpdateProfileRole)
	admin.POST("/invitations", s.authorizeOrgAction(authorization.ObjectProfile, authorization.ActionManage), s.InviteMembers)

	// -------- Devices --------
	admin.GET("/devices", s.authorizeOrgAction(authorization.ObjectDevice, authorization.ActionView), s.ListOrgDevices)
	admin.GET("/devices/:id/events", s.authorizeOrgAction(authorization.ObjectDevice, authorization.ActionView), s.ListDeviceEvents)
	admin.POST("/devices/:id/re-enroll", s.authorizeOrgAction(authorization.ObjectDevice, authorization.ActionDeviceReEnroll), s.ReEnrollDevice)
	admin.DELETE("/devices/:id", s.authorizeOrgAction(authorization.ObjectDevice, authorization.ActionDeviceRevoke), s.RevokeDevice)

	// -------- Resources --------
	admin.GET("/resources", s.authorizeOrgAction(authorization.ObjectResource, authorization.ActionView), s.ListResources)
	admin.POST("/resources", s.authorizeOrgAction(authorization.ObjectResource, authorization.ActionManage), s.CreateResource)
	admin.GET("/resources/:id", s.authorizeOrgAction(authorization.ObjectResource, authorization.ActionView), s.GetResource)
	admin.PATCH("/resources/:id", s.authorizeOrgAction(authorization.ObjectResource, authorization.ActionManage), s.UpdateResource)
	admin.DELETE("/resources/:id", s.authorizeOrgAction(authorization.ObjectResource, authorization.ActionManage), s.DeleteResource)
	admin.POST("/resources/:id/grants", s.authorizeOrgAction(authorization.ObjectResource, authorization.ActionManage), s.GrantResource)
	admin.DELETE("/resources/:id/grants/:group_id", s.authorizeOrgAction(authorization.ObjectResource, authorization.ActionManage), s.RevokeResourceGrant)

	// -------- Groups --------
	admin.GET("/groups", s.authorizeOrgAction(authorization.ObjectGroup, authorization.ActionView), s.ListGroups)
	admin.POST("/groups", s.authorizeOrgAction(authorization.ObjectGroup, authorization.ActionManage), s.CreateGroup)
	admin.DELETE("/groups/:id", s.authorizeOrgAction(authorization.ObjectGroup, authorization.ActionManage), s.DeleteGroup)
	admin.GET("/groups/:id/members", s.authorizeOrgAction(authorization.ObjectGroup, authorization.ActionView), s.ListGroupMembers)
	admin.POST("/groups/:id/members", s.authorizeOrgAction(authorization.ObjectGroup, authorization.ActionManage), s.AddGroupMember)
	admin.DELETE("/groups/:id/members/:profile_id", s.authorizeOrgAction(authorization.ObjectGroup, authorization.ActionManage), s.RemoveGroupMember)

	// -------- Sessions --------
	admin.GET("/sessions", s.authorizeOrgAction(authorization.ObjectSession, authorization.ActionView), s.ListOrgSessions)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)

	// -------- Integrations --------
	admin.GET("/integrations", s.authorizeOrgAction(authorization.ObjectIntegration, authorization.ActionView), s.ListIntegrations)
	admin.POST("/integrations/tailscale", s.authorizeOrgAction(authorization.ObjectIntegration, authorization.ActionManage), s.SetupTailscale)
	admin.POST("/integrations/zitadel", s.authorizeOrgAction(authorization.ObjectIntegration, authorization.ActionManage), s.SetupZitadel)
	admin.POST("/integrations/gcp", s.authorizeOrgAction(authorization.ObjectIntegration, authorization.ActionManage), s.SetupGCP)
	admin.POST("/integrations/lxd", s.authorizeOrgAction(authorization.ObjectIntegration, authorization.ActionManage), s.SetupLXD)

	// -------- Providers --------
	providers := admin.Group("/providers", s.authorizeOrgAction(authorization.ObjectProvider, authorization.ActionProviderOperate))
	{
		providers.GET("/tailscale/devices", s.ListTailscaleDevices)
		providers.DELETE("/tailscale/devices/:id", s.DeleteTailscaleDevice)
		providers.GET("/tailscale/acl", s.GetTailscaleACL)
		providers.PUT("/tailscale/acl", s.UpdateTailscaleACL)
		providers.POST("/tailscale/keys", s.CreateTailscaleAuthKey)

		providers.GET("/gcp/instances", s.ListGCPInstances)
		providers.POST("/gcp/instances", s.CreateGCPInstance)
		providers.POST("/gcp/instances/:zone/:name/start", s.StartGCPInstance)
		providers.POST("/gcp/instances/:zone/:name/stop", s.StopGCPInstance)
		providers.DELETE("/gcp/instances/:zone/:name", s.DeleteGCPInstance)

		providers.GET("/lxd/instances", s.ListLXDInstances)
		providers.POST("/lxd/instances", s.CreateLXDInstance)
		providers.POST("/lxd/instances/:name/start", s.StartLXDInstance)
		providers.POST("/lxd/instances/:name/stop", s.StopLXDInstance)
		providers.DELETE("/lxd/instances/:name", s.DeleteLXDInstance)
		providers.POST("/lxd/instances/:name/exec", s.ExecLXDInstance)
	}
}
