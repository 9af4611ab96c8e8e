// Package metrics exposes the relay's Prometheus instruments.
//
// Every recording method tolerates a nil receiver so components can be
// constructed without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alert_relay"

// Metrics holds every instrument registered by the relay.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Broadcasts        prometheus.Counter
	DeliveryFailures  prometheus.Counter
	AlertsReceived    prometheus.Counter

	BrokerPublishes *prometheus.CounterVec
	BrokerReceived  prometheus.Counter
	InboundDropped  prometheus.Counter

	Forwards *prometheus.CounterVec
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// New creates and registers the relay metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered websocket connections.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcasts_total",
			Help:      "Total number of frames broadcast to the registry.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "delivery_failures_total",
			Help:      "Total number of per-connection send failures.",
		}),
		AlertsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "alerts_total",
			Help:      "Total number of alerts accepted on the HTTP ingress.",
		}),
		BrokerPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Broker publish attempts by result (sent, dropped, failed).",
		}, []string{"result"}),
		BrokerReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "received_total",
			Help:      "Total number of inbound broker messages.",
		}),
		InboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "inbound_dropped_total",
			Help:      "Inbound broker messages dropped because the mailbox was full.",
		}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "forwards_total",
			Help:      "Notification forwards by outcome (delivered, skipped, failure).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.Broadcasts,
		m.DeliveryFailures,
		m.AlertsReceived,
		m.BrokerPublishes,
		m.BrokerReceived,
		m.InboundDropped,
		m.Forwards,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

func (m *Metrics) Broadcast() {
	if m != nil {
		m.Broadcasts.Inc()
	}
}

func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.DeliveryFailures.Inc()
	}
}

func (m *Metrics) AlertReceived() {
	if m != nil {
		m.AlertsReceived.Inc()
	}
}

// Publish records a broker publish attempt; result is "sent", "dropped" or "failed".
func (m *Metrics) Publish(result string) {
	if m != nil {
		m.BrokerPublishes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Received() {
	if m != nil {
		m.BrokerReceived.Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.InboundDropped.Inc()
	}
}

// Forward records a notification outcome.
func (m *Metrics) Forward(outcome string) {
	if m != nil {
		m.Forwards.WithLabelValues(outcome).Inc()
	}
}
