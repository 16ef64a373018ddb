package chain

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/eventop/subsync/pkg/config"
)

// Module exposes the decoder and the RPC-backed Client via Fx.
var Module = fx.Options(
	fx.Provide(NewDecoder),
	fx.Provide(func(cfg *cfgpkg.Config, log *zap.SugaredLogger) (Client, error) {
		return NewRPCClient(cfg, log)
	}),
)
