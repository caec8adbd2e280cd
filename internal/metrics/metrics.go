// Package metrics exposes fleetd's Prometheus instrumentation: active
// connection count, commands dispatched, policy blocks, and broadcasts
// sent, grounded on the arkeep example's client_golang usage.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters/gauges internal/server and internal/api
// update as they process connections and commands.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	CommandsDispatched prometheus.Counter
	CommandsBlocked    prometheus.Counter
	BroadcastsSent     prometheus.Counter
	AuthFailures       prometheus.Counter
}

// New registers fleetd's metrics under namespace on reg and returns the
// handle used to update them.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of agents currently connected to the fleet.",
		}),
		CommandsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Number of commands successfully dispatched to an agent.",
		}),
		CommandsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_blocked_total",
			Help:      "Number of commands rejected by policy before dispatch.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_sent_total",
			Help:      "Number of broadcast messages sent to the fleet.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Number of TCP challenge-response handshakes that failed.",
		}),
	}
	reg.MustRegister(m.ActiveConnections, m.CommandsDispatched, m.CommandsBlocked, m.BroadcastsSent, m.AuthFailures)
	return m
}
