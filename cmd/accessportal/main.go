package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/audit"
	"github.com/smallbiznis/accessportal/internal/auth"
	"github.com/smallbiznis/accessportal/internal/authorization"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/smallbiznis/accessportal/internal/device"
	"github.com/smallbiznis/accessportal/internal/enrollmenttoken"
	"github.com/smallbiznis/accessportal/internal/integration"
	"github.com/smallbiznis/accessportal/internal/inventory"
	"github.com/smallbiznis/accessportal/internal/invitation"
	"github.com/smallbiznis/accessportal/internal/migration"
	"github.com/smallbiznis/accessportal/internal/observability"
	"github.com/smallbiznis/accessportal/internal/onboarding"
	"github.com/smallbiznis/accessportal/internal/organization"
	"github.com/smallbiznis/accessportal/internal/profile"
	"github.com/smallbiznis/accessportal/internal/providers"
	"github.com/smallbiznis/accessportal/internal/ratelimit"
	"github.com/smallbiznis/accessportal/internal/resource"
	"github.com/smallbiznis/accessportal/internal/scheduler"
	"github.com/smallbiznis/accessportal/internal/secretstore"
	"github.com/smallbiznis/accessportal/internal/server"
	"github.com/smallbiznis/accessportal/internal/session"
	"github.com/smallbiznis/accessportal/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		providers.Module,

		// Functional Domains
		authorization.Module,
		audit.Module,
		auth.Module,
		organization.Module,
		profile.Module,
		enrollmenttoken.Module,
		device.Module,
		secretstore.Module,
		integration.Module,
		resource.Module,
		session.Module,
		invitation.Module,
		onboarding.Module,

		// Background workers
		migration.Module,
		scheduler.Module,
		inventory.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
