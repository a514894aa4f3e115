package onboarding

import (
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
	"github.com/smallbiznis/accessportal/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("onboarding.service",
	fx.Provide(
		func(z *zitadel.Service) IdentityProvisioner { return z },
		func(t *tailscale.Service) NetworkProvisioner { return t },
		func(l *ratelimit.Locker) Locker { return l },
		NewStepMetrics,
		New,
	),
)
