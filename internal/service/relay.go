package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/webitel/alert-relay-service/internal/adapter/broker"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/adapter/notify"
	"github.com/webitel/alert-relay-service/internal/domain/model"
	"github.com/webitel/alert-relay-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/alert-relay-service/internal/handler/marshaller/ws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/webitel/alert-relay-service/internal/service"

// Relayer connects the single ingress and the broker inbound path to every egress.
type Relayer interface {
	OnAlertIngress(ctx context.Context, message, location string) (model.AlertEvent, error)
	OnBrokerIngress(ctx context.Context, msg model.BrokerMessage)
}

// Interface guard
var _ Relayer = (*Relay)(nil)

type RelayConfig struct {
	Topics model.Topics

	// MaxInFlight caps concurrent webhook forwards; extra messages are not forwarded.
	MaxInFlight int
	SkipEcho    bool
}

// Relay fans alerts out to connections and the broker, and broker traffic out
// to connections and the notification sink. Each egress fails on its own.
type Relay struct {
	hub       registry.Hubber
	publisher broker.Publisher
	forwarder notify.Forwarder
	cfg       RelayConfig

	clock   clockwork.Clock
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// [BOUNDED_DISPATCH] closeMu orders TryGo against Shutdown's Wait.
	closeMu  sync.RWMutex
	closed   bool
	forwards *errgroup.Group
}

type RelayOption func(*Relay)

func WithClock(c clockwork.Clock) RelayOption {
	return func(r *Relay) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithTracer(t trace.Tracer) RelayOption {
	return func(r *Relay) {
		if t != nil {
			r.tracer = t
		}
	}
}

func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(hub registry.Hubber, publisher broker.Publisher, forwarder notify.Forwarder, cfg RelayConfig, opts ...RelayOption) *Relay {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}

	r := &Relay{
		hub:       hub,
		publisher: publisher,
		forwarder: forwarder,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default(),
		forwards:  new(errgroup.Group),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.forwards.SetLimit(cfg.MaxInFlight)

	return r
}

// OnAlertIngress stamps the alert, broadcasts it and publishes it on the alert
// topic. Only encoding failures are returned, wrapped in model.ErrInternal.
func (r *Relay) OnAlertIngress(ctx context.Context, message, location string) (model.AlertEvent, error) {
	_, span := r.tracer.Start(ctx, "relay.alert_ingress",
		trace.WithAttributes(attribute.String("alert.location", location)))
	defer span.End()

	ev := model.NewAlertEvent(message, location, r.clock.Now())
	r.metrics.AlertReceived()

	// 1. CONNECTIONS
	frame, err := wsmarshaller.MarshalAlert(ev)
	if err != nil {
		err = fmt.Errorf("%w: encode alert frame: %w", model.ErrInternal, err)
		span.SetStatus(codes.Error, err.Error())
		return ev, err
	}
	delivered := r.hub.Broadcast(frame)

	// 2. BROKER
	payload, err := json.Marshal(ev)
	if err != nil {
		err = fmt.Errorf("%w: encode alert event: %w", model.ErrInternal, err)
		span.SetStatus(codes.Error, err.Error())
		return ev, err
	}

	topic := r.cfg.Topics.Alert()
	if err := r.publisher.Publish(topic, payload); err != nil {
		// [CONTAINED] The broadcast already happened; the caller still succeeds.
		if errors.Is(err, model.ErrBridgeUnavailable) {
			r.logger.Warn("ALERT_PUBLISH_DROPPED", "topic", topic, "err", err)
		} else {
			r.logger.Error("ALERT_PUBLISH_FAILED", "topic", topic, "err", err)
		}
		span.AddEvent("publish dropped")
	}

	span.SetAttributes(attribute.Int("relay.delivered", delivered))
	r.logger.Info("ALERT_RELAYED", "location", location, "delivered", delivered)

	return ev, nil
}

// OnBrokerIngress starts the webhook forward without waiting for it, then
// broadcasts the bridge frame. It never fails the caller.
func (r *Relay) OnBrokerIngress(ctx context.Context, msg model.BrokerMessage) {
	ctx, span := r.tracer.Start(ctx, "relay.broker_ingress",
		trace.WithAttributes(
			attribute.String("broker.topic", msg.GetTopic()),
			attribute.Bool("broker.echo", msg.IsEcho()),
		))
	defer span.End()

	r.dispatchForward(context.WithoutCancel(ctx), msg)

	frame, err := wsmarshaller.MarshalBrokerMessage(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("BRIDGE_FRAME_ENCODE_FAILED", "topic", msg.GetTopic(), "err", err)
		return
	}

	delivered := r.hub.Broadcast(frame)
	span.SetAttributes(attribute.Int("relay.delivered", delivered))
	r.logger.Debug("BROKER_MESSAGE_RELAYED", "topic", msg.GetTopic(), "echo", msg.IsEcho(), "delivered", delivered)
}

func (r *Relay) dispatchForward(ctx context.Context, msg model.BrokerMessage) {
	if msg.IsEcho() && r.cfg.SkipEcho {
		r.logger.Debug("FORWARD_SKIPPED_ECHO", "topic", msg.GetTopic())
		return
	}

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	if r.closed {
		r.logger.Warn("FORWARD_SKIPPED_SHUTDOWN", "topic", msg.GetTopic())
		return
	}

	started := r.forwards.TryGo(func() error {
		r.forwarder.Forward(ctx, msg.GetTopic(), msg.GetPayload(), msg.GetReceivedAt())
		return nil
	})
	if !started {
		r.metrics.Forward(notify.ForwardFailure.String())
		r.logger.Warn("FORWARD_SATURATED", "topic", msg.GetTopic(), "max_in_flight", r.cfg.MaxInFlight)
	}
}

// Shutdown stops accepting forwards and waits for the in-flight ones or ctx.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.closeMu.Lock()
	r.closed = true
	r.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = r.forwards.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("RELAY_DRAINED")
		return nil
	case <-ctx.Done():
		r.logger.Warn("RELAY_DRAIN_TIMEOUT", "err", ctx.Err())
		return ctx.Err()
	}
}
