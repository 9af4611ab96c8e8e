package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Interface guard
var _ Transport = (*MQTTTransport)(nil)

type MQTTConfig struct {
	URL            string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTTransport drives a paho client with auto-reconnect and connect-retry enabled.
type MQTTTransport struct {
	cfg    MQTTConfig
	logger *slog.Logger
	client mqtt.Client

	// newClient is swapped in tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTTransport(cfg MQTTConfig, logger *slog.Logger) *MQTTTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &MQTTTransport{
		cfg:       cfg,
		logger:    logger,
		newClient: mqtt.NewClient,
	}
}

func (t *MQTTTransport) options(events Events) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(t.cfg.URL).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			if events.OnConnected != nil {
				events.OnConnected()
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if events.OnConnectionLost != nil {
				events.OnConnectionLost(err)
			}
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			if events.OnReconnecting != nil {
				events.OnReconnecting()
			}
		})
}

// Connect waits up to the connect timeout for the first attempt. With
// connect-retry on, an unfinished attempt keeps retrying in the background.
func (t *MQTTTransport) Connect(ctx context.Context, events Events) error {
	t.client = t.newClient(t.options(events))

	token := t.client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", t.cfg.URL, err)
		}
		t.logger.Info("MQTT_CONNECTED", "broker", t.cfg.URL, "client_id", t.cfg.ClientID)
	case <-time.After(t.cfg.ConnectTimeout):
		t.logger.Warn("MQTT_CONNECT_PENDING", "broker", t.cfg.URL, "timeout", t.cfg.ConnectTimeout)
	case <-ctx.Done():
		t.logger.Warn("MQTT_CONNECT_PENDING", "broker", t.cfg.URL, "err", ctx.Err())
	}
	return nil
}

func (t *MQTTTransport) Subscribe(pattern string, fn InboundFunc) error {
	if t.client == nil {
		return fmt.Errorf("mqtt subscribe %s: not connected", pattern)
	}

	token := t.client.Subscribe(pattern, t.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timed out", pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", pattern, err)
	}
	return nil
}

// Publish does not wait on the caller's goroutine; a late failure is only logged.
func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	if t.client == nil {
		return fmt.Errorf("mqtt publish %s: not connected", topic)
	}

	token := t.client.Publish(topic, t.cfg.QoS, false, payload)
	go func() {
		if token.WaitTimeout(t.cfg.ConnectTimeout) && token.Error() != nil {
			t.logger.Warn("MQTT_PUBLISH_FAILED", "topic", topic, "err", token.Error())
		}
	}()
	return nil
}

func (t *MQTTTransport) Close() {
	if t.client != nil {
		t.client.Disconnect(250)
	}
}
