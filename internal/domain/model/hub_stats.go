package model

// HubStats is a point-in-time view of the relay, served on /stats.
type HubStats struct {
	TotalConnections int     `json:"total_connections"`
	Broadcasts       uint64  `json:"broadcasts"`
	DeliveryFailures uint64  `json:"delivery_failures"`
	BridgeState      string  `json:"bridge_state"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}
