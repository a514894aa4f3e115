package tailscale

import "go.uber.org/fx"

var Module = fx.Module("providers.tailscale",
	fx.Provide(New),
)
