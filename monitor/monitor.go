// Package monitor exposes server health over prometheus.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OnlinePlayers    prometheus.Gauge
	ActiveAuctions   prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter
	AuctionsClosed   prometheus.Counter
	EventsExecuted   prometheus.Counter
	BroadcastLatency prometheus.Histogram
}

// NewMetrics builds the metric set on its own registry so multiple server
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of authenticated connections",
		}),
		ActiveAuctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_auctions",
			Help:      "Number of open auctions",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of inbound frames",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Outbound frames lost to send-queue overflow",
		}),
		AuctionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auctions_closed_total",
			Help:      "Auctions settled by the monitor or lazily",
		}),
		EventsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_executed_total",
			Help:      "World events executed by the dispatcher",
		}),
		BroadcastLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_latency_seconds",
			Help:      "Fan-out time for global broadcasts",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.OnlinePlayers,
		m.ActiveAuctions,
		m.MessagesReceived,
		m.MessagesDropped,
		m.AuctionsClosed,
		m.EventsExecuted,
		m.BroadcastLatency,
	)
	return m
}

// Handler serves the prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBroadcast records one fan-out duration.
func (m *Metrics) ObserveBroadcast(d time.Duration) {
	m.BroadcastLatency.Observe(d.Seconds())
}
