package audit

import (
	"github.com/smallbiznis/accessportal/internal/audit/repository"
	"github.com/smallbiznis/accessportal/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
