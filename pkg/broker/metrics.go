package broker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_total",
		Help: "Inbound gateway messages by kind.",
	}, []string{"kind"})

	GatewayErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_gateway_errors_total",
		Help: "Gateway error codes by routing category.",
	}, []string{"category"})

	OrdersPlacedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_orders_placed_total",
		Help: "Orders sent to the gateway by side and type.",
	}, []string{"side", "type"})

	OrderTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_order_transitions_total",
		Help: "Ledger transitions by resulting state.",
	}, []string{"state"})

	ResolveLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_resolve_latency_seconds",
		Help:    "Time to resolve a contract description into an instrument.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)

var registerOnce sync.Once

// InitMetrics registers the broker collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MessagesTotal)
		prometheus.MustRegister(GatewayErrorsTotal)
		prometheus.MustRegister(OrdersPlacedTotal)
		prometheus.MustRegister(OrderTransitionsTotal)
		prometheus.MustRegister(ResolveLatency)
	})
}
