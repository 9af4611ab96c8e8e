package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/domain/model"
)

// Handler consumes inbound broker messages in arrival order.
type Handler func(ctx context.Context, msg model.BrokerMessage)

// Publisher is the outbound side of the bridge used by the relay.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Interface guard
var _ Publisher = (*Bridge)(nil)

// Options tune a Bridge.
type Options struct {
	// Pattern is the topic filter subscribed on every (re)connect.
	Pattern       string
	MailboxSize   int
	EchoCacheSize int
	Clock         clockwork.Clock
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Bridge owns the single broker connection of the process.
type Bridge struct {
	transport Transport
	pattern   string
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	state atomic.Int32

	// [MAILBOX]
	// Decouples the transport's delivery goroutine from relay work. A full
	// mailbox sheds the message instead of stalling the transport.
	mailbox chan model.BrokerMessage

	// [SELF_RECEIPT]
	// Fingerprints of recent publications mapped to the number of echoes still
	// expected, so identical publications are each flagged once.
	echoMu sync.Mutex
	echoes *lru.Cache[uint64, int]

	handlerMu sync.RWMutex
	handler   Handler

	started  atomic.Bool
	doneCh   chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

func NewBridge(transport Transport, opts Options) (*Bridge, error) {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 1024
	}
	if opts.EchoCacheSize <= 0 {
		opts.EchoCacheSize = 512
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	echoes, err := lru.New[uint64, int](opts.EchoCacheSize)
	if err != nil {
		return nil, fmt.Errorf("broker bridge: echo cache: %w", err)
	}

	b := &Bridge{
		transport: transport,
		pattern:   opts.Pattern,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		mailbox:   make(chan model.BrokerMessage, opts.MailboxSize),
		echoes:    echoes,
		doneCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	b.state.Store(int32(Disconnected))
	return b, nil
}

// OnMessage registers the inbound observer. It replaces any previous one.
func (b *Bridge) OnMessage(h Handler) {
	b.handlerMu.Lock()
	b.handler = h
	b.handlerMu.Unlock()
}

func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(next State) {
	prev := State(b.state.Swap(int32(next)))
	if prev != next {
		b.logger.Info("BRIDGE_STATE_CHANGED", "from", prev.String(), "to", next.String())
	}
}

// Start enters Connecting and initiates the transport connection. A failed
// connect is logged and leaves the bridge Disconnected; it never fails startup.
func (b *Bridge) Start(ctx context.Context) error {
	select {
	case <-b.doneCh:
		return nil
	default:
	}
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}
	go b.loop()

	b.setState(Connecting)

	err := b.transport.Connect(ctx, Events{
		OnConnected:      b.handleConnected,
		OnConnectionLost: b.handleConnectionLost,
		OnReconnecting:   func() { b.setState(Reconnecting) },
	})
	if err != nil {
		b.logger.Error("BRIDGE_CONNECT_FAILED", "err", err)
		// Only fall back if no transport event moved us on meanwhile.
		b.state.CompareAndSwap(int32(Connecting), int32(Disconnected))
	}
	return nil
}

func (b *Bridge) handleConnected() {
	b.setState(Connected)

	// [DEGRADED_MODE] The bridge keeps publishing even when subscribe fails.
	if err := b.transport.Subscribe(b.pattern, b.receive); err != nil {
		b.logger.Warn("BRIDGE_SUBSCRIBE_FAILED", "pattern", b.pattern, "err", err)
		return
	}
	b.logger.Info("BRIDGE_SUBSCRIBED", "pattern", b.pattern)
}

func (b *Bridge) handleConnectionLost(err error) {
	b.logger.Warn("BRIDGE_CONNECTION_LOST", "err", err)
	b.setState(Reconnecting)
}

// Publish sends payload fire-and-forget. When the bridge is not Connected the
// message is dropped and ErrBridgeUnavailable returned; nothing is queued.
func (b *Bridge) Publish(topic string, payload []byte) error {
	if state := b.State(); state != Connected {
		b.metrics.Publish("dropped")
		b.logger.Debug("BRIDGE_PUBLISH_DROPPED", "topic", topic, "state", state.String())
		return fmt.Errorf("publish %s while %s: %w", topic, state, model.ErrBridgeUnavailable)
	}

	b.expectEcho(fingerprint(topic, payload))

	if err := b.transport.Publish(topic, payload); err != nil {
		b.metrics.Publish("failed")
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	b.metrics.Publish("sent")
	return nil
}

// receive runs on the transport's delivery goroutine: stamp, flag, enqueue.
func (b *Bridge) receive(topic string, payload []byte) {
	b.metrics.Received()

	echo := b.consumeEcho(fingerprint(topic, payload))
	msg := model.NewBrokerMessage(topic, payload, b.clock.Now(), echo)

	select {
	case b.mailbox <- msg:
	default:
		b.metrics.Dropped()
		b.logger.Warn("BRIDGE_MAILBOX_FULL", "topic", topic, "capacity", cap(b.mailbox))
	}
}

func (b *Bridge) expectEcho(key uint64) {
	b.echoMu.Lock()
	defer b.echoMu.Unlock()

	n, _ := b.echoes.Get(key)
	b.echoes.Add(key, n+1)
}

func (b *Bridge) consumeEcho(key uint64) bool {
	b.echoMu.Lock()
	defer b.echoMu.Unlock()

	n, ok := b.echoes.Get(key)
	if !ok {
		return false
	}
	if n <= 1 {
		b.echoes.Remove(key)
	} else {
		b.echoes.Add(key, n-1)
	}
	return true
}

func (b *Bridge) loop() {
	defer close(b.loopDone)
	for {
		select {
		case <-b.doneCh:
			return
		case msg := <-b.mailbox:
			b.dispatch(msg)
		}
	}
}

func (b *Bridge) dispatch(msg model.BrokerMessage) {
	// [PANIC_RECOVERY]
	// A faulty handler must not take the dispatcher down with it.
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("PANIC_RECOVERED",
				"err", r,
				"stack", string(debug.Stack()),
				"topic", msg.GetTopic())
		}
	}()

	b.handlerMu.RLock()
	h := b.handler
	b.handlerMu.RUnlock()

	if h == nil {
		b.logger.Debug("BRIDGE_NO_HANDLER", "topic", msg.GetTopic())
		return
	}

	b.logger.Debug("BRIDGE_MESSAGE_RECEIVED", "topic", msg.GetTopic(), "bytes", len(msg.GetPayload()), "echo", msg.IsEcho())
	h(context.Background(), msg)
}

// Stop closes the transport and the dispatcher. Messages still in the mailbox are discarded.
func (b *Bridge) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.setState(Disconnected)
		b.transport.Close()
		close(b.doneCh)
	})

	if !b.started.Load() {
		return nil
	}

	select {
	case <-b.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fingerprint(topic string, payload []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(payload)
	return h.Sum64()
}
