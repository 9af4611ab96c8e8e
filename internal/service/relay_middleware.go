package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/alert-relay-service/internal/domain/model"
)

// RelayMiddleware implements [DECORATOR_PATTERN] to add timing logs
// to both relay entry points without touching the relay itself.
type RelayMiddleware struct {
	Next   Relayer
	Logger *slog.Logger
}

// NewRelayMiddleware creates a new logging decorator for the Relayer.
func NewRelayMiddleware(next Relayer, logger *slog.Logger) Relayer {
	return &RelayMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *RelayMiddleware) OnAlertIngress(ctx context.Context, message, location string) (model.AlertEvent, error) {
	start := time.Now()

	ev, err := m.Next.OnAlertIngress(ctx, message, location)

	duration := time.Since(start)
	if err != nil {
		m.Logger.Error("ALERT_INGRESS_FAILED",
			"err", err,
			"location", location,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		m.Logger.Debug("ALERT_INGRESS_COMPLETED",
			"location", location,
			"duration_ms", duration.Milliseconds(),
		)
	}

	return ev, err
}

func (m *RelayMiddleware) OnBrokerIngress(ctx context.Context, msg model.BrokerMessage) {
	start := time.Now()

	m.Next.OnBrokerIngress(ctx, msg)

	// [LAG] receivedAt is stamped by the bridge before the mailbox.
	m.Logger.Debug("BROKER_INGRESS_COMPLETED",
		"topic", msg.GetTopic(),
		"duration_ms", time.Since(start).Milliseconds(),
		"lag_ms", time.Since(msg.GetReceivedAt()).Milliseconds(),
	)
}
