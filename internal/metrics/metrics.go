package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Connections       prometheus.Counter
	ActiveConnections prometheus.Gauge
	MessagesBroadcast prometheus.Counter
	BotRequests       prometheus.Counter
	BotFailures       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			Connections: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "verseroom",
				Name:      "connections_total",
				Help:      "Total websocket connections accepted",
			}),
			ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "verseroom",
				Name:      "connections_active",
				Help:      "Currently open websocket connections",
			}),
			MessagesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "verseroom",
				Name:      "messages_broadcast_total",
				Help:      "Total chat messages appended and broadcast",
			}),
			BotRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "verseroom",
				Name:      "bot_requests_total",
				Help:      "Total bot generation requests",
			}),
			BotFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "verseroom",
				Name:      "bot_failures_total",
				Help:      "Total bot generation failures",
			}),
		}
		prometheus.MustRegister(
			global.Connections,
			global.ActiveConnections,
			global.MessagesBroadcast,
			global.BotRequests,
			global.BotFailures,
		)
	})
	return global
}
