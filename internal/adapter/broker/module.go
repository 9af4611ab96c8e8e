package broker

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/alert-relay-service/config"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/domain/model"
	"go.uber.org/fx"
)

var Module = fx.Module("broker",
	fx.Provide(
		NewTransport,
		NewBridgeFromConfig,
		fx.Annotate(
			func(b *Bridge) Publisher { return b },
			fx.As(new(Publisher)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, b *Bridge) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				// [NON_BLOCKING_STARTUP] The first connect attempt may take the
				// whole connect timeout; the relay serves HTTP meanwhile.
				go func() { _ = b.Start(context.Background()) }()
				return nil
			},
			OnStop: b.Stop,
		})
	}),
)

// NewTransport selects the broker driver from configuration.
func NewTransport(cfg *config.Config, logger *slog.Logger, wmLog watermill.LoggerAdapter) Transport {
	l := logger.With("component", "broker", "driver", cfg.Broker.Driver)

	if cfg.Broker.Driver == config.DriverAMQP {
		return NewAMQPTransport(AMQPConfig{
			URL:      cfg.Broker.URL,
			Exchange: cfg.Broker.Exchange,
			Queue:    cfg.Broker.ClientID,
		}, l, wmLog)
	}

	return NewMQTTTransport(MQTTConfig{
		URL:            cfg.Broker.URL,
		ClientID:       cfg.Broker.ClientID,
		QoS:            byte(cfg.Broker.QoS),
		ConnectTimeout: cfg.Broker.ConnectTimeout,
	}, l)
}

func NewBridgeFromConfig(cfg *config.Config, t Transport, logger *slog.Logger, m *metrics.Metrics) (*Bridge, error) {
	return NewBridge(t, Options{
		Pattern:       model.NewTopics(cfg.Broker.Namespace).Subscription(),
		MailboxSize:   cfg.Broker.MailboxSize,
		EchoCacheSize: cfg.Broker.EchoCacheSize,
		Logger:        logger.With("component", "bridge"),
		Metrics:       m,
	})
}
