package lxd

import "go.uber.org/fx"

var Module = fx.Module("providers.lxd",
	fx.Provide(New),
)
