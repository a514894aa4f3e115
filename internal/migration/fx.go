package migration

import (
	"context"

	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/smallbiznis/accessportal/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		return Run(conn, cfg.DBType)
	}),
	fx.Invoke(func(p seed.Params) error {
		_, err := seed.EnsurePlatformAdmin(context.Background(), p)
		return err
	}),
)
