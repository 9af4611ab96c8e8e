package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/webitel/alert-relay-service/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR THE WEBSOCKET HANDLER
type Deliverer interface {
	Subscribe(ctx context.Context, meta registry.ConnectMetadata) registry.Connector
	Unsubscribe(connID uuid.UUID)
}

type DeliveryService struct {
	hub        registry.Hubber
	bufferSize int
}

// NewDeliveryService returns a production-ready instance of the service.
func NewDeliveryService(hub registry.Hubber, bufferSize int) *DeliveryService {
	return &DeliveryService{
		hub:        hub,
		bufferSize: bufferSize,
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, meta registry.ConnectMetadata) registry.Connector {
	// 1. Create a connector bound to the transport's lifetime
	conn := registry.NewConnector(ctx, s.bufferSize, meta)

	// 2. From now on every broadcast targets it
	s.hub.Register(conn)

	return conn
}

// [UNSUBSCRIBE] Hub.Unregister closes the connector; repeated calls are no-ops.
func (s *DeliveryService) Unsubscribe(connID uuid.UUID) {
	s.hub.Unregister(connID)
}
