package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queueline_connected_sessions",
			Help: "Current number of connected WebSocket sessions",
		},
	)

	queueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queueline_queue_length",
			Help: "Current number of entrants in the waiting line",
		},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueline_messages_total",
			Help: "Total inbound WebSocket messages by type and outcome",
		},
		[]string{"type", "status"},
	)

	broadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queueline_broadcasts_total",
			Help: "Total queue snapshot broadcasts",
		},
	)

	broadcastSendErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queueline_broadcast_send_errors_total",
			Help: "Total per-socket send failures during broadcast",
		},
	)
)

func SetConnectedSessions(n int) {
	connectedSessions.Set(float64(n))
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

func ObserveMessage(messageType, status string) {
	messagesTotal.WithLabelValues(messageType, status).Inc()
}

func IncBroadcast() {
	broadcastsTotal.Inc()
}

func IncBroadcastSendError() {
	broadcastSendErrorsTotal.Inc()
}
