package webhook

import (
	"context"

	"go.uber.org/fx"
)

// Module exposes the webhook dispatcher via Fx.
var Module = fx.Options(
	fx.Provide(NewStore, NewService),
	fx.Invoke(func(lc fx.Lifecycle, s *Service) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				s.Drain()
				return nil
			},
		})
	}),
)
