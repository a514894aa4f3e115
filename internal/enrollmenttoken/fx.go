package enrollmenttoken

import (
	"github.com/smallbiznis/accessportal/internal/enrollmenttoken/repository"
	"github.com/smallbiznis/accessportal/internal/enrollmenttoken/service"
	"go.uber.org/fx"
)

var Module = fx.Module("enrollmenttoken.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
