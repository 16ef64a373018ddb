package indexer

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/eventop/subsync/internal/app/service/checkout"
	"github.com/eventop/subsync/internal/app/service/scheduler"
	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/pkg/config"
)

// Module exposes the chain indexer via Fx. Startup is blocking on purpose:
// the app does not come up if the chain RPC is unreachable or the backlog
// cannot be replayed.
var Module = fx.Options(
	fx.Provide(
		NewStore,
		func(s *scheduler.Service) PaymentScheduler { return s },
		func(w *webhook.Service) Notifier { return w },
		func(c *checkout.Service) Reconciler { return c },
		NewService,
	),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg *config.Config, s *Service) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := s.Start(startCtx); err != nil {
				cancel()
				close(done)
				return err
			}
			go func() {
				defer close(done)
				go s.RunLive(ctx)
				resync := time.NewTicker(cfg.Indexer.ResyncInterval)
				snapshot := time.NewTicker(cfg.Indexer.SnapshotInterval)
				defer resync.Stop()
				defer snapshot.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-resync.C:
						s.Resync(ctx)
					case <-snapshot.C:
						s.SnapshotYieldEarnings(ctx)
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
