package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/domain/model"
)

type published struct {
	topic   string
	payload string
}

type fakeTransport struct {
	mu           sync.Mutex
	events       Events
	connectErr   error
	subscribeErr error
	autoConnect  bool
	patterns     []string
	inbound      InboundFunc
	published    []published
	closed       bool
}

func (f *fakeTransport) Connect(_ context.Context, events Events) error {
	f.mu.Lock()
	f.events = events
	err := f.connectErr
	auto := f.autoConnect
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		events.OnConnected()
	}
	return nil
}

func (f *fakeTransport) Subscribe(pattern string, fn InboundFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.inbound = fn
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, string(payload)})
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) deliver(topic, payload string) {
	f.mu.Lock()
	fn := f.inbound
	f.mu.Unlock()
	fn(topic, []byte(payload))
}

func (f *fakeTransport) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func newTestBridge(t *testing.T, tr *fakeTransport, opts Options) *Bridge {
	t.Helper()
	if opts.Pattern == "" {
		opts.Pattern = "corgidev/pet/+"
	}
	b, err := NewBridge(tr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b
}

func TestBridge_ConnectSubscribesAndPublishes(t *testing.T) {
	tr := &fakeTransport{autoConnect: true}
	b := newTestBridge(t, tr, Options{})

	require.NoError(t, b.Start(context.Background()))

	assert.Equal(t, Connected, b.State())
	assert.Equal(t, []string{"corgidev/pet/+"}, tr.patterns)

	require.NoError(t, b.Publish("corgidev/pet/alert", []byte(`{"message":"hi"}`)))
	assert.Equal(t, []published{{"corgidev/pet/alert", `{"message":"hi"}`}}, tr.sent())
}

func TestBridge_PublishDroppedWhenNotConnected(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Options{Metrics: m})

	// Before Start the bridge is disconnected.
	done := make(chan error, 1)
	go func() { done <- b.Publish("corgidev/pet/alert", []byte("x")) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, model.ErrBridgeUnavailable)
	case <-time.After(time.Second):
		t.Fatal("publish while disconnected must not block")
	}

	// Connecting but not yet connected drops as well.
	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, Connecting, b.State())
	assert.ErrorIs(t, b.Publish("corgidev/pet/alert", []byte("y")), model.ErrBridgeUnavailable)

	assert.Empty(t, tr.sent(), "nothing is queued for later")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BrokerPublishes.WithLabelValues("dropped")))
}

func TestBridge_ConnectFailureIsNotFatal(t *testing.T) {
	tr := &fakeTransport{connectErr: errors.New("dial tcp: connection refused")}
	b := newTestBridge(t, tr, Options{})

	require.NoError(t, b.Start(context.Background()))

	assert.Equal(t, Disconnected, b.State())
	assert.ErrorIs(t, b.Publish("corgidev/pet/alert", nil), model.ErrBridgeUnavailable)
}

func TestBridge_SubscribeFailureDegradesButPublishes(t *testing.T) {
	tr := &fakeTransport{autoConnect: true, subscribeErr: errors.New("not authorized")}
	b := newTestBridge(t, tr, Options{})

	require.NoError(t, b.Start(context.Background()))

	assert.Equal(t, Connected, b.State())
	assert.NoError(t, b.Publish("corgidev/pet/alert", []byte("x")))
	assert.Len(t, tr.sent(), 1)
}

func TestBridge_StateTransitions(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Options{})
	require.NoError(t, b.Start(context.Background()))
	require.Equal(t, Connecting, b.State())

	tr.events.OnConnected()
	assert.Equal(t, Connected, b.State())

	tr.events.OnConnectionLost(errors.New("EOF"))
	assert.Equal(t, Reconnecting, b.State())
	assert.ErrorIs(t, b.Publish("corgidev/pet/alert", nil), model.ErrBridgeUnavailable)

	tr.events.OnReconnecting()
	assert.Equal(t, Reconnecting, b.State())

	tr.events.OnConnected()
	assert.Equal(t, Connected, b.State())
	assert.Equal(t, []string{"corgidev/pet/+", "corgidev/pet/+"}, tr.patterns, "resubscribes on reconnect")

	require.NoError(t, b.Stop(context.Background()))
	assert.Equal(t, Disconnected, b.State())
	assert.True(t, tr.closed)
}

func TestBridge_InboundDispatchInArrivalOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	tr := &fakeTransport{autoConnect: true}
	b := newTestBridge(t, tr, Options{Clock: clock})

	var mu sync.Mutex
	var got []model.BrokerMessage
	all := make(chan struct{})

	b.OnMessage(func(_ context.Context, msg model.BrokerMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
		if len(got) == 3 {
			close(all)
		}
	})
	require.NoError(t, b.Start(context.Background()))

	tr.deliver("corgidev/pet/alert", "1")
	tr.deliver("corgidev/pet/status", "2")
	tr.deliver("corgidev/pet/alert", "3")

	select {
	case <-all:
	case <-time.After(2 * time.Second):
		t.Fatal("inbound messages were not dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].GetText())
	assert.Equal(t, "corgidev/pet/status", got[1].GetTopic())
	assert.Equal(t, "3", got[2].GetText())
	assert.True(t, clock.Now().Equal(got[0].GetReceivedAt()))
}

func TestBridge_SlowHandlerDoesNotBlockTransport(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	tr := &fakeTransport{autoConnect: true}
	b := newTestBridge(t, tr, Options{MailboxSize: 1, Metrics: m})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	b.OnMessage(func(context.Context, model.BrokerMessage) { <-release })
	require.NoError(t, b.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		for range 10 {
			tr.deliver("corgidev/pet/alert", "x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("transport delivery goroutine was blocked by the handler")
	}
	assert.Greater(t, testutil.ToFloat64(m.InboundDropped), 0.0)
}

func TestBridge_FlagsSelfReceipt(t *testing.T) {
	tr := &fakeTransport{autoConnect: true}
	b := newTestBridge(t, tr, Options{})

	msgs := make(chan model.BrokerMessage, 4)
	b.OnMessage(func(_ context.Context, msg model.BrokerMessage) { msgs <- msg })
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Publish("corgidev/pet/alert", []byte("own")))

	tr.deliver("corgidev/pet/alert", "own")
	tr.deliver("corgidev/pet/alert", "foreign")
	tr.deliver("corgidev/pet/alert", "own")

	first, second, third := <-msgs, <-msgs, <-msgs
	assert.True(t, first.IsEcho())
	assert.False(t, second.IsEcho())
	assert.False(t, third.IsEcho(), "an echo is matched once")
}

func TestBridge_IdenticalPublicationsEachFlagOneEcho(t *testing.T) {
	tr := &fakeTransport{autoConnect: true}
	b := newTestBridge(t, tr, Options{})

	msgs := make(chan model.BrokerMessage, 4)
	b.OnMessage(func(_ context.Context, msg model.BrokerMessage) { msgs <- msg })
	require.NoError(t, b.Start(context.Background()))

	payload := []byte(`{"message":"Dog escaped","location":"Park Ave","timestamp":"2024-05-01T08:30:00.000Z"}`)
	require.NoError(t, b.Publish("corgidev/pet/alert", payload))
	require.NoError(t, b.Publish("corgidev/pet/alert", payload))

	for range 3 {
		tr.deliver("corgidev/pet/alert", string(payload))
	}

	first, second, third := <-msgs, <-msgs, <-msgs
	assert.True(t, first.IsEcho())
	assert.True(t, second.IsEcho())
	assert.False(t, third.IsEcho(), "only as many echoes as publications")
}

func TestBridge_HandlerPanicRecovered(t *testing.T) {
	tr := &fakeTransport{autoConnect: true}
	b := newTestBridge(t, tr, Options{})

	seen := make(chan string, 2)
	b.OnMessage(func(_ context.Context, msg model.BrokerMessage) {
		if msg.GetText() == "boom" {
			panic("handler bug")
		}
		seen <- msg.GetText()
	})
	require.NoError(t, b.Start(context.Background()))

	tr.deliver("corgidev/pet/alert", "boom")
	tr.deliver("corgidev/pet/alert", "after")

	select {
	case text := <-seen:
		assert.Equal(t, "after", text)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not survive a handler panic")
	}
}

func TestBridge_StopBeforeStart(t *testing.T) {
	b, err := NewBridge(&fakeTransport{}, Options{Pattern: "a/+"})
	require.NoError(t, err)

	assert.NoError(t, b.Stop(context.Background()))
	assert.NoError(t, b.Start(context.Background()))
	assert.Equal(t, Disconnected, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
