package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool { return t.waitFor(d) }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

func (t *fakeToken) waitFor(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient implements the parts of mqtt.Client the transport uses.
type fakeClient struct {
	mqtt.Client

	opts        *mqtt.ClientOptions
	connect     *fakeToken
	subErr      error
	mu          sync.Mutex
	handlers    map[string]mqtt.MessageHandler
	publishes   []string
	qos         []byte
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token { return c.connect }

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qos = append(c.qos, qos)
	if c.handlers == nil {
		c.handlers = map[string]mqtt.MessageHandler{}
	}
	c.handlers[topic] = cb
	return doneToken(c.subErr)
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, topic+"="+string(payload.([]byte)))
	return doneToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func newFakeMQTT(connect *fakeToken) (*MQTTTransport, *fakeClient) {
	fc := &fakeClient{connect: connect}
	tr := NewMQTTTransport(MQTTConfig{
		URL:            "mqtt://broker.test:1883",
		ClientID:       "relay-test",
		QoS:            1,
		ConnectTimeout: 50 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fc.opts = o
		return fc
	}
	return tr, fc
}

func TestMQTTTransport_ConnectWiresLifecycleHandlers(t *testing.T) {
	tr, fc := newFakeMQTT(doneToken(nil))

	var connected, lost, reconnecting int
	err := tr.Connect(context.Background(), Events{
		OnConnected:      func() { connected++ },
		OnConnectionLost: func(error) { lost++ },
		OnReconnecting:   func() { reconnecting++ },
	})
	require.NoError(t, err)

	require.NotNil(t, fc.opts)
	assert.True(t, fc.opts.AutoReconnect)
	assert.True(t, fc.opts.ConnectRetry)
	assert.Equal(t, "relay-test", fc.opts.ClientID)

	fc.opts.OnConnect(fc)
	fc.opts.OnConnectionLost(fc, errors.New("EOF"))
	fc.opts.OnReconnecting(fc, fc.opts)

	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 1, reconnecting)
}

func TestMQTTTransport_ConnectError(t *testing.T) {
	tr, _ := newFakeMQTT(doneToken(errors.New("not authorized")))

	err := tr.Connect(context.Background(), Events{})
	assert.ErrorContains(t, err, "not authorized")
}

func TestMQTTTransport_ConnectPendingIsNotAnError(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	tr, _ := newFakeMQTT(pending)

	assert.NoError(t, tr.Connect(context.Background(), Events{}))
}

func TestMQTTTransport_SubscribeAndPublish(t *testing.T) {
	tr, fc := newFakeMQTT(doneToken(nil))
	require.NoError(t, tr.Connect(context.Background(), Events{}))

	var gotTopic, gotPayload string
	require.NoError(t, tr.Subscribe("corgidev/pet/+", func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, string(payload)
	}))

	fc.handlers["corgidev/pet/+"](fc, fakeMessage{topic: "corgidev/pet/alert", payload: []byte("hi")})
	assert.Equal(t, "corgidev/pet/alert", gotTopic)
	assert.Equal(t, "hi", gotPayload)
	assert.Equal(t, []byte{1}, fc.qos)

	require.NoError(t, tr.Publish("corgidev/pet/alert", []byte("out")))
	assert.Equal(t, []string{"corgidev/pet/alert=out"}, fc.publishes)

	tr.Close()
	assert.Equal(t, 1, fc.disconnects)
}

func TestMQTTTransport_SubscribeError(t *testing.T) {
	tr, fc := newFakeMQTT(doneToken(nil))
	fc.subErr = errors.New("subscription rejected")
	require.NoError(t, tr.Connect(context.Background(), Events{}))

	assert.ErrorContains(t, tr.Subscribe("corgidev/pet/+", func(string, []byte) {}), "subscription rejected")
}

func TestMQTTTransport_NotConnected(t *testing.T) {
	tr, _ := newFakeMQTT(doneToken(nil))

	assert.Error(t, tr.Publish("a/b", nil))
	assert.Error(t, tr.Subscribe("a/+", func(string, []byte) {}))
	assert.NotPanics(t, tr.Close)
}
