package registry

import (
	"log/slog"
	"time"

	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithSendTimeout bounds how long a broadcast waits on one connection's full buffer.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.sendTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}
