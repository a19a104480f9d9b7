package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the Prometheus registry used by the server
	Registry = prometheus.NewRegistry()

	connectionsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "irc_connections_total",
			Help: "Total number of accepted connections",
		},
	)

	connectedClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "irc_connected_clients",
			Help: "Number of currently connected clients",
		},
	)

	registrationsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "irc_registrations_total",
			Help: "Total number of completed registrations",
		},
	)

	commandsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "irc_commands_total",
			Help: "Total number of processed commands by verb",
		},
		[]string{"command"},
	)

	messagesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "irc_messages_total",
			Help: "Total number of relayed messages by kind",
		},
		[]string{"kind"},
	)
)
