package model

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the ISO-8601 form used on the wire: UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in [TimestampLayout] after converting it to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// AlertEvent is a single alert accepted by the HTTP ingress.
//
// [IMMUTABLE]
// Fields are unexported so that the value cannot change once the relay
// has stamped it; it lives only for the duration of one fan-out.
type AlertEvent struct {
	message    string
	location   string
	occurredAt time.Time
}

// NewAlertEvent stamps the alert with the given time.
func NewAlertEvent(message, location string, at time.Time) AlertEvent {
	return AlertEvent{
		message:    message,
		location:   location,
		occurredAt: at.UTC(),
	}
}

func (e AlertEvent) GetMessage() string       { return e.message }
func (e AlertEvent) GetLocation() string      { return e.location }
func (e AlertEvent) GetOccurredAt() time.Time { return e.occurredAt }

// alertEventJSON is the broker representation of an alert.
type alertEventJSON struct {
	Message   string `json:"message"`
	Location  string `json:"location"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON encodes the event as published on the alert topic.
func (e AlertEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(alertEventJSON{
		Message:   e.message,
		Location:  e.location,
		Timestamp: FormatTimestamp(e.occurredAt),
	})
}
