package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Interface guard
var _ Transport = (*AMQPTransport)(nil)

// metadataRoutingKey carries the MQTT-style topic on messages we publish.
const metadataRoutingKey = "routing_key"

type AMQPConfig struct {
	URL      string
	Exchange string
	// Queue is this node's exclusive queue name; every node sees every message.
	Queue string
}

// AMQPTransport publishes and consumes through a durable topic exchange.
// Reconnection is handled by watermill's connection wrapper.
type AMQPTransport struct {
	cfg     AMQPConfig
	logger  *slog.Logger
	wmLog   watermill.LoggerAdapter
	mu      sync.Mutex
	pub     *amqp.Publisher
	sub     *amqp.Subscriber
	ctx     context.Context
	cancel  context.CancelFunc
	closeWg sync.WaitGroup
}

func NewAMQPTransport(cfg AMQPConfig, logger *slog.Logger, wmLog watermill.LoggerAdapter) *AMQPTransport {
	if cfg.Queue == "" {
		cfg.Queue = "alert-relay." + watermill.NewShortUUID()
	}
	return &AMQPTransport{cfg: cfg, logger: logger, wmLog: wmLog}
}

func (t *AMQPTransport) config() amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(t.cfg.URL, nil)

	// [TOPOLOGY] One topic exchange; the subscribe "topic" is the binding key.
	cfg.Exchange.GenerateName = func(string) string { return t.cfg.Exchange }
	cfg.Exchange.Type = "topic"
	cfg.Queue.GenerateName = func(string) string { return t.cfg.Queue }
	cfg.Queue.Durable = false
	cfg.Queue.AutoDelete = true
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	return cfg
}

func (t *AMQPTransport) Connect(ctx context.Context, events Events) error {
	cfg := t.config()

	pub, err := amqp.NewPublisher(cfg, t.wmLog)
	if err != nil {
		return fmt.Errorf("amqp publisher %s: %w", t.cfg.Exchange, err)
	}

	sub, err := amqp.NewSubscriber(cfg, t.wmLog)
	if err != nil {
		_ = pub.Close()
		return fmt.Errorf("amqp subscriber %s: %w", t.cfg.Queue, err)
	}

	t.mu.Lock()
	t.pub, t.sub = pub, sub
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	t.logger.Info("AMQP_CONNECTED", "exchange", t.cfg.Exchange, "queue", t.cfg.Queue)
	if events.OnConnected != nil {
		events.OnConnected()
	}
	return nil
}

func (t *AMQPTransport) Subscribe(pattern string, fn InboundFunc) error {
	t.mu.Lock()
	sub, ctx := t.sub, t.ctx
	t.mu.Unlock()

	if sub == nil {
		return fmt.Errorf("amqp subscribe %s: not connected", pattern)
	}

	msgs, err := sub.Subscribe(ctx, ToRoutingKey(pattern))
	if err != nil {
		return fmt.Errorf("amqp subscribe %s: %w", pattern, err)
	}

	t.closeWg.Add(1)
	go func() {
		defer t.closeWg.Done()
		for msg := range msgs {
			fn(resolveTopic(msg, pattern), msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

func (t *AMQPTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	pub := t.pub
	t.mu.Unlock()

	if pub == nil {
		return fmt.Errorf("amqp publish %s: not connected", topic)
	}

	key := ToRoutingKey(topic)
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataRoutingKey, key)

	if err := pub.Publish(key, msg); err != nil {
		return fmt.Errorf("amqp publish %s: %w", topic, err)
	}
	return nil
}

func (t *AMQPTransport) Close() {
	t.mu.Lock()
	pub, sub, cancel := t.pub, t.sub, t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			t.logger.Warn("AMQP_SUBSCRIBER_CLOSE_FAILED", "err", err)
		}
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			t.logger.Warn("AMQP_PUBLISHER_CLOSE_FAILED", "err", err)
		}
	}
	t.closeWg.Wait()
}

// resolveTopic recovers the MQTT-style topic of an inbound message from its
// routing key metadata, falling back to the subscribed pattern.
func resolveTopic(msg *message.Message, pattern string) string {
	rk := msg.Metadata.Get("x-routing-key")
	if rk == "" {
		rk = msg.Metadata.Get(metadataRoutingKey)
	}
	if rk == "" {
		return pattern
	}
	return FromRoutingKey(rk)
}
