package providers

import (
	"github.com/smallbiznis/accessportal/internal/providers/email"
	"github.com/smallbiznis/accessportal/internal/providers/gcp"
	"github.com/smallbiznis/accessportal/internal/providers/lxd"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	tailscale.Module,
	zitadel.Module,
	gcp.Module,
	lxd.Module,
)
