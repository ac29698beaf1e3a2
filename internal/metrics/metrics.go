package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Direction labels for relayed lines
const (
	ToUpstream   = "to_upstream"
	FromUpstream = "from_upstream"
	ToDownstream = "to_downstream"
)

// Command kind labels
const (
	CommandReal       = "real"
	CommandFake       = "fake"
	CommandSuppressed = "suppressed"
)

// Metrics holds the relay's prometheus collectors
type Metrics struct {
	Registry *prometheus.Registry

	LinesRelayed      *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	Disconnects       *prometheus.CounterVec
	ConnectAttempts   *prometheus.CounterVec
	UpstreamConnected *prometheus.GaugeVec
	InFlight          *prometheus.GaugeVec

	DownstreamConnected *prometheus.GaugeVec
	EventsDropped       prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		LinesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renx_relay",
			Name:      "lines_total",
			Help:      "Protocol lines relayed, by direction.",
		}, []string{"server", "upstream", "direction"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renx_relay",
			Name:      "commands_total",
			Help:      "Upstream commands by handling kind.",
		}, []string{"server", "upstream", "kind"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renx_relay",
			Name:      "upstream_disconnects_total",
			Help:      "Upstream disconnects by reason.",
		}, []string{"server", "upstream", "reason"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renx_relay",
			Name:      "upstream_connect_attempts_total",
			Help:      "Upstream connect attempts by result.",
		}, []string{"server", "upstream", "result"}),
		UpstreamConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "renx_relay",
			Name:      "upstream_connected",
			Help:      "1 while the upstream socket is connected.",
		}, []string{"server", "upstream"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "renx_relay",
			Name:      "commands_in_flight",
			Help:      "Real commands outstanding against the downstream session.",
		}, []string{"server"}),
		DownstreamConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "renx_relay",
			Name:      "downstream_connected",
			Help:      "1 while the game-server RCON session is established.",
		}, []string{"server"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renx_relay",
			Name:      "events_dropped_total",
			Help:      "Relay events dropped because the event queue was full.",
		}),
	}
	m.Registry.MustRegister(
		m.LinesRelayed,
		m.Commands,
		m.Disconnects,
		m.ConnectAttempts,
		m.UpstreamConnected,
		m.InFlight,
		m.DownstreamConnected,
		m.EventsDropped,
		collectors.NewGoCollector(),
	)
	return m
}
