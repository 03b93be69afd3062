// Package metrics exposes reservation and lifecycle counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ordersCreated  prometheus.Counter
	unitsReserved  prometheus.Counter
	itemsPerOrder  prometheus.Histogram
	ordersRejected *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

var _ orders.Recorder = (*Metrics)(nil)

// New registers every collector on a private registry, so tests can build
// as many instances as they like.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders committed with their stock reservation.",
		}),
		unitsReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_units_reserved_total",
			Help:      "Stock units decremented by committed orders.",
		}),
		itemsPerOrder: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_items",
			Help:      "Line items per committed order.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Order creations that failed, by error kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Applied order status changes.",
		}, []string{"from", "to"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP responses by route pattern and status code.",
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersCreated,
		m.unitsReserved,
		m.itemsPerOrder,
		m.ordersRejected,
		m.transitions,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) OrderCreated(items, units int) {
	m.ordersCreated.Inc()
	m.unitsReserved.Add(float64(units))
	m.itemsPerOrder.Observe(float64(items))
}

func (m *Metrics) OrderRejected(kind orders.Kind) {
	if kind == "" {
		kind = "internal"
	}
	m.ordersRejected.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) StatusChanged(from, to orders.Status) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
