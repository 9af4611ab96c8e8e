package registry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
)

// fakeConn records every payload and optionally fails or runs a hook on send.
type fakeConn struct {
	id      uuid.UUID
	mu      sync.Mutex
	got     [][]byte
	sendErr error
	onSend  func()
	closed  atomic.Int32
	done    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New(), done: make(chan struct{})}
}

func (f *fakeConn) GetID() uuid.UUID { return f.id }

func (f *fakeConn) Send(payload []byte, _ time.Duration) error {
	if f.onSend != nil {
		f.onSend()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.got = append(f.got, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Recv() <-chan []byte   { return nil }
func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) Close() {
	if f.closed.Add(1) == 1 {
		close(f.done)
	}
}

func (f *fakeConn) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.got...)
}

func TestHub_BroadcastReachesEveryConnection(t *testing.T) {
	h := NewHub()
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		h.Register(c)
	}

	delivered := h.Broadcast([]byte(`{"type":"alert"}`))

	assert.Equal(t, 3, delivered)
	for _, c := range conns {
		require.Len(t, c.received(), 1, "each connection receives exactly one frame")
		assert.Equal(t, `{"type":"alert"}`, string(c.received()[0]))
	}
}

func TestHub_BroadcastIsolatesFailedConnection(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := NewHub(WithMetrics(m))

	bad := newFakeConn()
	bad.sendErr = errors.New("broken pipe")
	good := newFakeConn()

	h.Register(bad)
	h.Register(good)

	assert.NotPanics(t, func() {
		delivered := h.Broadcast([]byte("frame"))
		assert.Equal(t, 1, delivered)
	})

	assert.Len(t, good.received(), 1)
	assert.Equal(t, 1, h.Len(), "failed connection is removed")
	assert.Equal(t, int32(1), bad.closed.Load())
	assert.Equal(t, uint64(1), h.Stats().DeliveryFailures)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	h := NewHub()
	c := newFakeConn()
	h.Register(c)

	h.Unregister(c.GetID())
	h.Unregister(c.GetID())
	h.Unregister(uuid.New())

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, int32(1), c.closed.Load(), "close runs once")
}

func TestHub_BroadcastUsesSnapshot(t *testing.T) {
	h := NewHub()

	late := newFakeConn()
	first := newFakeConn()
	second := newFakeConn()

	// Every send mutates the registry: unregister a peer and register a newcomer.
	first.onSend = func() {
		h.Unregister(second.GetID())
		h.Register(late)
	}
	second.onSend = func() {
		h.Unregister(first.GetID())
		h.Register(late)
	}

	h.Register(first)
	h.Register(second)

	delivered := h.Broadcast([]byte("frame"))

	assert.Equal(t, 2, delivered)
	assert.Len(t, first.received(), 1)
	assert.Len(t, second.received(), 1)
	assert.Empty(t, late.received(), "connections registered mid-broadcast are not visited")
}

func TestHub_ConcurrentLifecycle(t *testing.T) {
	h := NewHub()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				c := newFakeConn()
				h.Register(c)
				h.Broadcast([]byte("x"))
				h.Unregister(c.GetID())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, uint64(400), h.Stats().Broadcasts)
}

func TestHub_ShutdownClosesAll(t *testing.T) {
	h := NewHub()
	a, b := newFakeConn(), newFakeConn()
	h.Register(a)
	h.Register(b)

	h.Shutdown()

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), b.closed.Load())
}

func TestHub_WithRealConnector(t *testing.T) {
	h := NewHub(WithSendTimeout(10*time.Millisecond))

	conn := NewConnector(context.Background(), 1, ConnectMetadata{RemoteIP: "10.1.2.3"})
	h.Register(conn)

	assert.Equal(t, 1, h.Broadcast([]byte("one")))

	// Buffer of one is now full; the next broadcast times out and evicts.
	assert.Equal(t, 0, h.Broadcast([]byte("two")))
	assert.Equal(t, 0, h.Len())

	select {
	case <-conn.Done():
	default:
		t.Fatal("evicted connection should be closed")
	}
}

func TestHub_EvictionLogDescribesConnection(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewHub(WithSendTimeout(5*time.Millisecond), WithLogger(logger))

	conn := NewConnector(context.Background(), 1, ConnectMetadata{RemoteIP: "10.1.2.3", UserAgent: "curl/8"})
	h.Register(conn)
	h.Broadcast([]byte("fills the buffer"))
	h.Broadcast([]byte("times out"))

	out := buf.String()
	assert.Contains(t, out, "msg=BROADCAST_DELIVERY_FAILED")
	assert.Contains(t, out, "remote_ip=10.1.2.3")
	assert.Contains(t, out, "user_agent=curl/8")
	assert.Contains(t, out, "dropped=1")
}
