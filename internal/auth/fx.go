package auth

import (
	"github.com/smallbiznis/accessportal/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(service.NewTokenService),
)
