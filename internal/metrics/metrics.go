// File: internal/metrics/metrics.go
// ============================================
// Registers:
//
//	#xtrader_orders_total{symbol,outcome}
//	#xtrader_signals_total{symbol,strategy}
//	#xtrader_exchange_calls_total{op,result}
//	#xtrader_exchange_call_seconds{op}
//	#xtrader_managed_orders
//	#go_* and process_* system metrics
//
// The registry is served by the status API under /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtrader_orders_total",
			Help: "Order attempts by terminal outcome",
		},
		[]string{"symbol", "outcome"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtrader_signals_total",
			Help: "Signals produced by the generator",
		},
		[]string{"symbol", "strategy"},
	)

	exchangeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtrader_exchange_calls_total",
			Help: "Exchange API calls by operation and result",
		},
		[]string{"op", "result"},
	)

	exchangeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xtrader_exchange_call_seconds",
			Help:    "Exchange API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	managedOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xtrader_managed_orders",
			Help: "Orders currently tracked by the order manager",
		},
	)
)

func init() {
	registry.MustRegister(
		ordersTotal,
		signalsTotal,
		exchangeCalls,
		exchangeLatency,
		managedOrders,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func Registry() *prometheus.Registry {
	return registry
}

func IncOrder(symbol, outcome string) {
	ordersTotal.WithLabelValues(symbol, outcome).Inc()
}

func IncSignal(symbol, strategy string) {
	signalsTotal.WithLabelValues(symbol, strategy).Inc()
}

// ObserveExchangeCall records one attempt against the exchange.
func ObserveExchangeCall(op string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	exchangeCalls.WithLabelValues(op, result).Inc()
	exchangeLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func SetManagedOrders(n int) {
	managedOrders.Set(float64(n))
}
