package broker

import "context"

// InboundFunc receives one broker message. Implementations are called on the
// transport's delivery goroutine and must not block.
type InboundFunc func(topic string, payload []byte)

// Events lets a transport report connection lifecycle changes to the bridge.
// OnConnected fires on the first connection and on every reconnection.
type Events struct {
	OnConnected      func()
	OnConnectionLost func(err error)
	OnReconnecting   func()
}

// Transport is the broker capability the bridge drives. Reconnection is the
// transport's own concern.
type Transport interface {
	// Connect initiates the connection and returns once the first attempt completes.
	Connect(ctx context.Context, events Events) error
	Subscribe(pattern string, fn InboundFunc) error
	// Publish hands the payload to the transport without waiting for broker acknowledgement.
	Publish(topic string, payload []byte) error
	Close()
}
