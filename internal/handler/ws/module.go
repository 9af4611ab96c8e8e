package ws

import (
	"log/slog"

	"github.com/webitel/alert-relay-service/config"
	"github.com/webitel/alert-relay-service/internal/handler/rest"
	"github.com/webitel/alert-relay-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ws",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger, d service.Deliverer) *WSHandler {
			return NewWSHandler(logger.With("component", "ws"), d, Options{
				WriteTimeout: cfg.WS.WriteTimeout,
				PingInterval: cfg.WS.PingInterval,
			})
		},
	),
	// [SEPARATE_PORT] Every path on the websocket port upgrades.
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, h *WSHandler, logger *slog.Logger) {
		s := rest.NewServer("ws", cfg.WS.Port, h, cfg.HTTP.ReadTimeout, logger)
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Shutdown,
		})
	}),
)
