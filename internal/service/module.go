package service

import (
	"log/slog"

	"github.com/webitel/alert-relay-service/config"
	"github.com/webitel/alert-relay-service/internal/adapter/broker"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/adapter/notify"
	"github.com/webitel/alert-relay-service/internal/domain/model"
	"github.com/webitel/alert-relay-service/internal/domain/registry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			func(cfg *config.Config, hub registry.Hubber) *DeliveryService {
				return NewDeliveryService(hub, cfg.WS.BufferSize)
			},
			fx.As(new(Deliverer)),
		),
		func(
			cfg *config.Config,
			hub registry.Hubber,
			pub broker.Publisher,
			fwd notify.Forwarder,
			logger *slog.Logger,
			m *metrics.Metrics,
			tp trace.TracerProvider,
		) *Relay {
			return NewRelay(hub, pub, fwd, RelayConfig{
				Topics:      model.NewTopics(cfg.Broker.Namespace),
				MaxInFlight: cfg.Notify.MaxInFlight,
				SkipEcho:    cfg.Notify.SkipEcho,
			},
				WithLogger(logger.With("component", "relay")),
				WithMetrics(m),
				WithTracer(tp.Tracer(tracerName)),
			)
		},
		// [DECORATION_LAYER] Consumers get the Relayer wrapped with timing logs
		func(r *Relay, logger *slog.Logger) Relayer {
			return NewRelayMiddleware(r, logger.With("component", "relay"))
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, b *broker.Bridge, relay Relayer, r *Relay) {
		// [WIRING] Inbound broker traffic is observed before the bridge starts.
		b.OnMessage(relay.OnBrokerIngress)

		lc.Append(fx.Hook{
			OnStop: r.Shutdown,
		})
	}),
)
