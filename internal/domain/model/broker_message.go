package model

import "time"

// BrokerMessage is one message received from the publish/subscribe broker.
type BrokerMessage struct {
	topic      string
	payload    []byte
	receivedAt time.Time

	// echo marks a payload this process published itself (self-receipt).
	echo bool
}

// NewBrokerMessage copies payload so the transport may reuse its buffer.
func NewBrokerMessage(topic string, payload []byte, receivedAt time.Time, echo bool) BrokerMessage {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	return BrokerMessage{
		topic:      topic,
		payload:    buf,
		receivedAt: receivedAt.UTC(),
		echo:       echo,
	}
}

func (m BrokerMessage) GetTopic() string         { return m.topic }
func (m BrokerMessage) GetPayload() []byte       { return m.payload }
func (m BrokerMessage) GetText() string          { return string(m.payload) }
func (m BrokerMessage) GetReceivedAt() time.Time { return m.receivedAt }
func (m BrokerMessage) IsEcho() bool             { return m.echo }
