package chat

import "github.com/prometheus/client_golang/prometheus"

// Message counter labels.
const (
	msgPublished  = "published"
	msgDelivered  = "delivered"
	msgSuppressed = "suppressed"
	msgLagged     = "lagged"
)

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently connected clients",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total relayed messages by outcome",
	}, []string{"type"})

	WriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_write_seconds",
		Help:    "Time to write one relayed line to a client socket",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(WriteDuration)
}
