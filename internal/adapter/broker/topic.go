package broker

import "strings"

// ToRoutingKey maps an MQTT-style topic or filter to an AMQP topic-exchange
// routing key: levels joined by ".", "+" becomes "*", "#" is kept.
func ToRoutingKey(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if p == "+" {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, ".")
}

// FromRoutingKey is the inverse of ToRoutingKey for concrete keys.
func FromRoutingKey(key string) string {
	parts := strings.Split(key, ".")
	for i, p := range parts {
		if p == "*" {
			parts[i] = "+"
		}
	}
	return strings.Join(parts, "/")
}
