/*
Package registry tracks the live websocket connections of the relay.

Key Architectural Concepts:
  - Sole Authority: the Hub is the only owner of connection handles; other
    layers hold an id and ask the Hub to release it.
  - Snapshot Broadcast: a broadcast iterates a copy of the live set taken at
    broadcast start, so removals triggered by a failed send neither skip nor
    repeat any other recipient.
  - Failure Isolation: a per-connection send failure evicts that connection
    and is logged; it never aborts delivery to the rest or reaches the caller.
*/
package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/alert-relay-service/internal/adapter/metrics"
	"github.com/webitel/alert-relay-service/internal/domain/model"
)

// Hubber defines the gateway for connection management and frame fan-out.
type Hubber interface {
	Register(conn Connector)
	Unregister(connID uuid.UUID)
	Broadcast(payload []byte) int
	Len() int
	Stats() model.HubStats
	Shutdown()
}

type hubConfig struct {
	sendTimeout time.Duration
}

// Hub implements a [SNAPSHOT_REGISTRY] of live connections.
type Hub struct {
	config  hubConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// [CONCURRENCY_CONTROL]
	// The lock guards the map only; it is never held across a Send.
	mu    sync.RWMutex
	conns map[uuid.UUID]Connector

	startedAt  time.Time
	broadcasts atomic.Uint64
	failures   atomic.Uint64
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			sendTimeout: 500 * time.Millisecond,
		},
		logger:    slog.Default(),
		conns:     make(map[uuid.UUID]Connector),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Register(conn Connector) {
	h.mu.Lock()
	_, exists := h.conns[conn.GetID()]
	h.conns[conn.GetID()] = conn
	h.mu.Unlock()

	if !exists {
		h.metrics.ConnectionOpened()
	}
	h.logger.Debug("CONNECTION_REGISTERED", append([]any{"conn_id", conn.GetID()}, describe(conn)...)...)
}

// Unregister performs [IDEMPOTENT] removal; an absent id is a no-op.
func (h *Hub) Unregister(connID uuid.UUID) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	conn.Close()
	h.metrics.ConnectionClosed()
	h.logger.Debug("CONNECTION_UNREGISTERED", "conn_id", connID)
}

// Broadcast sends payload to every connection in a snapshot of the live set
// and returns how many accepted it.
func (h *Hub) Broadcast(payload []byte) int {
	h.broadcasts.Add(1)
	h.metrics.Broadcast()

	delivered := 0
	for _, conn := range h.snapshot() {
		if err := conn.Send(payload, h.config.sendTimeout); err != nil {
			// [FAILURE_ISOLATION] Evict the recipient, keep going.
			h.failures.Add(1)
			h.metrics.DeliveryFailed()
			h.logger.Warn("BROADCAST_DELIVERY_FAILED", append([]any{
				"err", &model.DeliveryFailure{ConnID: conn.GetID(), Err: err},
				"conn_id", conn.GetID(),
			}, describe(conn)...)...)
			h.Unregister(conn.GetID())
			continue
		}
		delivered++
	}

	return delivered
}

func (h *Hub) snapshot() []Connector {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]Connector, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Stats() model.HubStats {
	return model.HubStats{
		TotalConnections: h.Len(),
		Broadcasts:       h.broadcasts.Load(),
		DeliveryFailures: h.failures.Load(),
		UptimeSeconds:    time.Since(h.startedAt).Seconds(),
	}
}

// Shutdown closes and removes every connection.
func (h *Hub) Shutdown() {
	for _, conn := range h.snapshot() {
		h.Unregister(conn.GetID())
	}
	h.logger.Info("HUB_SHUTDOWN_COMPLETE")
}

// describer is implemented by connectors that carry transport metadata.
type describer interface {
	Metadata() ConnectMetadata
	Dropped() uint64
}

func describe(conn Connector) []any {
	d, ok := conn.(describer)
	if !ok {
		return nil
	}
	meta := d.Metadata()
	return []any{"remote_ip", meta.RemoteIP, "user_agent", meta.UserAgent, "dropped", d.Dropped()}
}
