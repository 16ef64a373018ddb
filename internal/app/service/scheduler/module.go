package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/pkg/config"
)

// Module exposes the payment scheduler via Fx and runs its timer loops for
// the lifetime of the app.
var Module = fx.Options(
	fx.Provide(
		NewStore,
		func(w *webhook.Service) Notifier { return w },
		NewService,
	),
	fx.Invoke(runLoops),
)

func runLoops(lc fx.Lifecycle, cfg *config.Config, s *Service) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				tick := time.NewTicker(cfg.Scheduler.TickInterval)
				cleanup := time.NewTicker(cfg.Scheduler.CleanupInterval)
				defer tick.Stop()
				defer cleanup.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-tick.C:
						s.Tick(ctx)
					case <-cleanup.C:
						s.Cleanup(ctx)
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
