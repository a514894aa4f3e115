package inventory

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const refreshInterval = 5 * time.Minute

var Module = fx.Module("inventory.metrics",
	fx.Provide(NewCollector),
	fx.Invoke(start),
)

func start(lc fx.Lifecycle, c *Collector, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting inventory metrics worker")
			go c.run(ctx, refreshInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
