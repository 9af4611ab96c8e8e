package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/alert-relay-service/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
// This allows mocking and decoupling from the concrete transport.
type Connector interface {
	GetID() uuid.UUID
	Send(payload []byte, timeout time.Duration) error // Thread-safe send with backpressure handling
	Recv() <-chan []byte
	Done() <-chan struct{}
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id       uuid.UUID
	metadata ConnectMetadata

	ctx      context.Context
	cancelFn context.CancelFunc

	// sendCh is never closed; readers select on Done() instead, so a late
	// Send racing with Close cannot panic.
	sendCh    chan []byte
	closeOnce sync.Once

	droppedCount uint64 // [ATOMIC_FIELD]
}

// NewConnector creates a connection handle whose lifetime is bound to ctx.
func NewConnector(ctx context.Context, bufferSize int, meta ConnectMetadata) Connector {
	childCtx, cancel := context.WithCancel(ctx)

	return &connect{
		id:       uuid.New(),
		metadata: meta,
		ctx:      childCtx,
		cancelFn: cancel,
		sendCh:   make(chan []byte, bufferSize),
	}
}

func (c *connect) GetID() uuid.UUID { return c.id }

// Send enqueues payload for the connection's write pump.
func (c *connect) Send(payload []byte, timeout time.Duration) error {
	// 1. [LIFECYCLE_GATE] Immediately abort if the underlying transport is already dead.
	select {
	case <-c.ctx.Done():
		return model.ErrConnectionClosed
	default:
	}

	// [RESOURCE_MANAGEMENT] A strict delivery window so one stalled socket
	// cannot hold the broadcast loop hostage.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return model.ErrConnectionClosed

	// 2. [PRIMARY_DELIVERY]
	case c.sendCh <- payload:
		return nil

	// 3. [BACKPRESSURE_THRESHOLD] Buffer stayed saturated for the entire window.
	case <-timer.C:
		atomic.AddUint64(&c.droppedCount, 1)
		return model.ErrSendTimeout
	}
}

func (c *connect) Recv() <-chan []byte       { return c.sendCh }
func (c *connect) Done() <-chan struct{}     { return c.ctx.Done() }
func (c *connect) Dropped() uint64           { return atomic.LoadUint64(&c.droppedCount) }
func (c *connect) Metadata() ConnectMetadata { return c.metadata }

// Close terminates the session. Safe to call from the hub, the transport handler, and shutdown concurrently.
func (c *connect) Close() {
	c.closeOnce.Do(c.cancelFn)
}
