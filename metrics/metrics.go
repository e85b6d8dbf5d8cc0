// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_active_connections",
			Help: "Number of currently accepted TCP connections.",
		},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_commands_total",
			Help: "Total number of protocol commands dispatched, by command name.",
		},
		[]string{"command"},
	)
	droppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_dropped_messages_total",
			Help: "Total number of wire messages dropped as malformed or unknown.",
		},
	)
	notificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_notifications_total",
			Help: "Total number of new_message_in_chat pushes written to online members.",
		},
	)
)

func init() {
	prometheus.MustRegister(activeConnections, commandsTotal, droppedTotal, notificationsTotal)
}

// RegisterOnlineUsers wires an online-users gauge to the session registry's
// size. Called once from bootstrap, after the registry exists.
func RegisterOnlineUsers(count func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "messenger_online_users",
			Help: "Number of logged-in users present in the session registry.",
		},
		func() float64 { return float64(count()) },
	))
}

func ConnOpened() { activeConnections.Inc() }

func ConnClosed() { activeConnections.Dec() }

func Command(name string) { commandsTotal.WithLabelValues(name).Inc() }

func Dropped() { droppedTotal.Inc() }

func NotificationPushed() { notificationsTotal.Inc() }

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
