// Package metrics holds the Prometheus collectors exported on /metrics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codetalk"

// Metrics holds every collector the server records.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	busPublished   *prometheus.CounterVec
	busDelivered   *prometheus.CounterVec
	busDropped     *prometheus.CounterVec
	busSubscribers prometheus.Gauge
	busBrokerUp    prometheus.Gauge

	wsConnections   prometheus.Gauge
	wsSubscriptions *prometheus.CounterVec

	coalescerPublishes *prometheus.CounterVec

	authFailures *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		busPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Events published per topic.",
		}, []string{"topic"}),
		busDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_delivered_total",
			Help:      "Events handed to local subscribers per topic.",
		}, []string{"topic"}),
		busDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Events dropped per topic and reason.",
		}, []string{"topic", "reason"}),
		busSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscribers",
			Help:      "Live local subscriptions.",
		}),
		busBrokerUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_broker_connected",
			Help:      "1 while the broker listener connection is established.",
		}),

		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
		wsSubscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_subscriptions_total",
			Help:      "Subscription requests by name and result.",
		}, []string{"subscription", "result"}),

		coalescerPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalescer_publishes_total",
			Help:      "Live-edit publishes by trigger (immediate, timer) and skipped duplicates.",
		}, []string{"trigger"}),

		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Authentication failures by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status/100)+"xx").Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) BusPublished(topic string) {
	if m == nil {
		return
	}
	m.busPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) BusDelivered(topic string) {
	if m == nil {
		return
	}
	m.busDelivered.WithLabelValues(topic).Inc()
}

func (m *Metrics) BusDropped(topic, reason string) {
	if m == nil {
		return
	}
	m.busDropped.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) BusSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.busSubscribers.Add(delta)
}

func (m *Metrics) BrokerConnected(up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.busBrokerUp.Set(v)
}

func (m *Metrics) WSConnections(delta float64) {
	if m == nil {
		return
	}
	m.wsConnections.Add(delta)
}

func (m *Metrics) WSSubscription(name, result string) {
	if m == nil {
		return
	}
	m.wsSubscriptions.WithLabelValues(name, result).Inc()
}

func (m *Metrics) CoalescerPublish(trigger string) {
	if m == nil {
		return
	}
	m.coalescerPublishes.WithLabelValues(trigger).Inc()
}

func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}
