package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedSessions tracks the number of live realtime connections.
	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_connected_sessions",
		Help: "Number of currently connected realtime sessions",
	})

	// BroadcastsTotal counts registry broadcast calls.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_broadcasts_total",
		Help: "Total number of broadcast operations",
	})

	// DeliveriesTotal counts payloads enqueued to a live session.
	DeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_deliveries_total",
		Help: "Total number of payloads enqueued for delivery",
	})

	// DroppedDeliveriesTotal counts payloads dropped because a session's
	// outbound buffer was full.
	DroppedDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_dropped_deliveries_total",
		Help: "Total number of payloads dropped due to a full session buffer",
	})

	// FanoutDuration observes recipient-set computation time per kind.
	FanoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_fanout_duration_seconds",
		Help:    "Recipient set computation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// HTTPRequestsTotal counts handled HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
