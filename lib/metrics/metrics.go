// Package metrics exposes Prometheus collectors for the chat server.
// Every method is safe to call on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures a Collector.
type Config struct {
	// Namespace prefixes every metric name (default: "securechat").
	Namespace string

	// Registry receives the collectors. Default: a fresh registry that also
	// carries the Go runtime and process collectors.
	Registry *prometheus.Registry
}

// Collector holds the server's metrics.
type Collector struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	authenticatedUsers  prometheus.Gauge
	rooms               prometheus.Gauge
	framesReceived      *prometheus.CounterVec
	protocolErrors      *prometheus.CounterVec
	framingErrors       *prometheus.CounterVec
	deliveryFailures    prometheus.Counter
	broadcastFanout     prometheus.Histogram
	connectionDuration  prometheus.Histogram
}

// New registers the collectors and returns them.
func New(config Config) *Collector {
	if config.Namespace == "" {
		config.Namespace = "securechat"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
		config.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(config.Registry)
	ns := config.Namespace

	return &Collector{
		registry: config.Registry,

		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener",
		}),
		connectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_rejected_total",
			Help:      "Connections closed before serving, by reason",
		}, []string{"reason"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_connections",
			Help:      "Connections currently being served",
		}),
		authenticatedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "authenticated_users",
			Help:      "Sessions that have logged in",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "rooms",
			Help:      "Rooms currently resident",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_received_total",
			Help:      "Decoded frames received, by message type",
		}, []string{"type"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "protocol_errors_total",
			Help:      "Error responses sent to clients, by code",
		}, []string{"code"}),
		framingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "framing_errors_total",
			Help:      "Connections terminated by a framing error, by reason",
		}, []string{"reason"}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "delivery_failures_total",
			Help:      "Frames that could not be written to a recipient",
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "broadcast_fanout",
			Help:      "Recipients per room broadcast",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of served connections",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ConnectionAccepted() {
	if c == nil {
		return
	}
	c.connectionsAccepted.Inc()
	c.activeConnections.Inc()
}

func (c *Collector) ConnectionClosed(lifetime time.Duration) {
	if c == nil {
		return
	}
	c.activeConnections.Dec()
	c.connectionDuration.Observe(lifetime.Seconds())
}

func (c *Collector) ConnectionRejected(reason string) {
	if c == nil {
		return
	}
	c.connectionsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) FrameReceived(kind string) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(kind).Inc()
}

func (c *Collector) ProtocolError(code string) {
	if c == nil {
		return
	}
	c.protocolErrors.WithLabelValues(code).Inc()
}

func (c *Collector) FramingError(reason string) {
	if c == nil {
		return
	}
	c.framingErrors.WithLabelValues(reason).Inc()
}

func (c *Collector) DeliveryFailed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.deliveryFailures.Add(float64(n))
}

func (c *Collector) Broadcast(recipients int) {
	if c == nil {
		return
	}
	c.broadcastFanout.Observe(float64(recipients))
}

// SetPopulation records the current number of logged in users and rooms.
func (c *Collector) SetPopulation(users, rooms int) {
	if c == nil {
		return
	}
	c.authenticatedUsers.Set(float64(users))
	c.rooms.Set(float64(rooms))
}
