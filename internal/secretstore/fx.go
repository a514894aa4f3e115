package secretstore

import (
	"github.com/smallbiznis/accessportal/internal/secretstore/repository"
	"github.com/smallbiznis/accessportal/internal/secretstore/service"
	"go.uber.org/fx"
)

var Module = fx.Module("secretstore.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
