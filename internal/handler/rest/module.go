package rest

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/webitel/alert-relay-service/config"
	"github.com/webitel/alert-relay-service/internal/adapter/broker"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/domain/registry"
	"github.com/webitel/alert-relay-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rest",
	fx.Provide(
		func(relay service.Relayer, hub registry.Hubber, b *broker.Bridge, reg *prometheus.Registry, logger *slog.Logger) *Handler {
			return NewHandler(relay, hub, b, metrics.Handler(reg), logger.With("component", "rest"))
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, h *Handler, logger *slog.Logger) {
		s := NewServer("rest", cfg.HTTP.Port, h.Routes(), cfg.HTTP.ReadTimeout, logger)
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Shutdown,
		})
	}),
)
