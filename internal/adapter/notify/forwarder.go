package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/domain/model"
)

// OutcomeKind classifies a single forward attempt.
type OutcomeKind int

const (
	ForwardDelivered OutcomeKind = iota + 1
	// ForwardSkipped means no sink is configured; nothing was sent.
	ForwardSkipped
	// ForwardFailure covers transport errors, non-2xx responses, and an open breaker.
	ForwardFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case ForwardDelivered:
		return "delivered"
	case ForwardSkipped:
		return "skipped"
	case ForwardFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the named result of Forward. It replaces a returned error:
// forwarding never fails its caller.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Err        error
}

// Forwarder delivers inbound broker messages to the notification sink.
type Forwarder interface {
	Forward(ctx context.Context, topic string, payload []byte, at time.Time) Outcome
}

// Interface guard
var _ Forwarder = (*Webhook)(nil)

// ErrUnexpectedStatus marks a non-2xx answer from the sink.
var ErrUnexpectedStatus = errors.New("webhook: unexpected status")

type Config struct {
	URL     string
	Timeout time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Webhook posts {topic, message, timestamp} to the configured URL, at most once per message.
type Webhook struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Webhook)

// WithClient allows injecting a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Webhook) { w.metrics = m }
}

func NewWebhook(cfg Config, opts ...Option) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	w := &Webhook{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.client == nil {
		w.client = &http.Client{Timeout: cfg.Timeout}
	}

	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-webhook",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("WEBHOOK_BREAKER_STATE_CHANGED", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return w
}

// Enabled reports whether a sink URL is configured.
func (w *Webhook) Enabled() bool { return strings.TrimSpace(w.cfg.URL) != "" }

type forwardBody struct {
	Topic     string `json:"topic"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Forward performs one bounded POST. Failures are logged and reported in the Outcome only.
func (w *Webhook) Forward(ctx context.Context, topic string, payload []byte, at time.Time) Outcome {
	out := w.forward(ctx, topic, payload, at)
	w.metrics.Forward(out.Kind.String())

	switch out.Kind {
	case ForwardFailure:
		w.logger.Warn("WEBHOOK_FORWARD_FAILED", "topic", topic, "status", out.StatusCode, "err", out.Err)
	case ForwardSkipped:
		w.logger.Debug("WEBHOOK_FORWARD_SKIPPED", "topic", topic, "reason", "sink not configured")
	default:
		w.logger.Debug("WEBHOOK_FORWARDED", "topic", topic, "status", out.StatusCode)
	}
	return out
}

func (w *Webhook) forward(ctx context.Context, topic string, payload []byte, at time.Time) Outcome {
	if !w.Enabled() {
		return Outcome{Kind: ForwardSkipped}
	}

	body, err := json.Marshal(forwardBody{
		Topic:     topic,
		Message:   string(payload),
		Timestamp: model.FormatTimestamp(at),
	})
	if err != nil {
		return Outcome{Kind: ForwardFailure, Err: fmt.Errorf("webhook: encode: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	res, err := w.breaker.Execute(func() (interface{}, error) {
		return w.post(ctx, body)
	})
	status, _ := res.(int)
	if err != nil {
		return Outcome{Kind: ForwardFailure, StatusCode: status, Err: err}
	}
	return Outcome{Kind: ForwardDelivered, StatusCode: status}
}

func (w *Webhook) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return resp.StatusCode, nil
}
