package gcp

import "go.uber.org/fx"

var Module = fx.Module("providers.gcp",
	fx.Provide(New),
)
