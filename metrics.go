package tinymqtt

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds one Broker's Prometheus collectors, scoped to a
// private registry rather than the global default: a process that
// builds more than one Broker (as the test suite does) would
// otherwise panic on the second prometheus.MustRegister call for the
// same metric name.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	PacketsSent     prometheus.Counter
	BytesSent       prometheus.Counter
	ActiveSessions  prometheus.Gauge
}

// NewMetrics builds a Metrics with a fresh registry and registers its
// own collectors against it.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry:        prometheus.NewRegistry(),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{Name: "tinymqtt_received_packets", Help: "Total MQTT packets received"}),
		BytesReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "tinymqtt_received_bytes", Help: "Total MQTT bytes received"}),
		PacketsSent:     prometheus.NewCounter(prometheus.CounterOpts{Name: "tinymqtt_sent_packets", Help: "Total MQTT packets sent"}),
		BytesSent:       prometheus.NewCounter(prometheus.CounterOpts{Name: "tinymqtt_sent_bytes", Help: "Total MQTT bytes sent"}),
		ActiveSessions:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "tinymqtt_active_sessions", Help: "Current number of connected sessions (network and local)"}),
	}
	m.Registry.MustRegister(m.PacketsReceived, m.BytesReceived, m.PacketsSent, m.BytesSent, m.ActiveSessions)
	return m
}
