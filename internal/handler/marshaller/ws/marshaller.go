package wsmarshaller

import (
	"encoding/json"

	"github.com/webitel/alert-relay-service/internal/domain/model"
)

// FrameTypeAlert tags frames produced from the HTTP ingress.
const FrameTypeAlert = "alert"

// AlertFrame is sent to every client when an alert is published over HTTP.
type AlertFrame struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Location string `json:"location"`
}

// BridgeFrame carries a message received from the broker. Message is the
// inbound payload verbatim, as text.
type BridgeFrame struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// MarshalAlert prepares the alert frame for websocket transmission.
func MarshalAlert(ev model.AlertEvent) ([]byte, error) {
	return json.Marshal(AlertFrame{
		Type:     FrameTypeAlert,
		Message:  ev.GetMessage(),
		Location: ev.GetLocation(),
	})
}

// MarshalBrokerMessage prepares the bridge frame. The payload is not decoded.
func MarshalBrokerMessage(msg model.BrokerMessage) ([]byte, error) {
	return json.Marshal(BridgeFrame{
		Topic:   msg.GetTopic(),
		Message: msg.GetText(),
	})
}
