package cmd

import (
	"log/slog"

	"github.com/webitel/alert-relay-service/config"
	"github.com/webitel/alert-relay-service/internal/adapter/broker"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/adapter/notify"
	"github.com/webitel/alert-relay-service/internal/domain/registry"
	"github.com/webitel/alert-relay-service/internal/handler/rest"
	"github.com/webitel/alert-relay-service/internal/handler/ws"
	"github.com/webitel/alert-relay-service/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracerProvider,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		metrics.Module,
		registry.Module,
		notify.Module,
		// [STOP_ORDER] Hooks stop in reverse: the bridge stops feeding the relay
		// before the relay drains its forwards.
		service.Module,
		broker.Module,
		rest.Module,
		ws.Module,
	)
}
