package integration

import (
	"github.com/smallbiznis/accessportal/internal/integration/domain"
	"github.com/smallbiznis/accessportal/internal/integration/repository"
	"github.com/smallbiznis/accessportal/internal/integration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("integration.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(func(s *service.Service) domain.CredentialResolver { return s }),
)
