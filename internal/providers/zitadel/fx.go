package zitadel

import "go.uber.org/fx"

var Module = fx.Module("providers.zitadel",
	fx.Provide(New),
)
