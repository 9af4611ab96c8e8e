package notify

import (
	"log/slog"

	"github.com/webitel/alert-relay-service/config"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("notify",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Webhook {
			l := logger.With("component", "notify")
			w := NewWebhook(Config{
				URL:             cfg.Notify.URL,
				Timeout:         cfg.Notify.Timeout,
				BreakerFailures: cfg.Notify.BreakerFailures,
				BreakerTimeout:  cfg.Notify.BreakerTimeout,
			}, WithLogger(l), WithMetrics(m))

			if !w.Enabled() {
				l.Warn("WEBHOOK_DISABLED", "reason", "notify.url is empty; inbound broker messages will not be forwarded")
			}
			return w
		},
		fx.Annotate(
			func(w *Webhook) Forwarder { return w },
			fx.As(new(Forwarder)),
		),
	),
)
