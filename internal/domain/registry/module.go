package registry

import (
	"context"
	"log/slog"

	"github.com/webitel/alert-relay-service/config"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
			return NewHub(
				WithSendTimeout(cfg.WS.SendTimeout),
				WithLogger(logger.With("component", "registry")),
				WithMetrics(m),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Release every live connection
				return nil
			},
		})
	}),
)
