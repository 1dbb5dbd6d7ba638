package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	orderTotal      prometheus.Histogram

	txDuration *prometheus.HistogramVec
	txRetries  *prometheus.CounterVec

	idempotentReplays prometheus.Counter
}

// NewOrderMetrics регистрирует метрики заказов в registerer (nil: DefaultRegisterer).
func NewOrderMetrics(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_cancelled_total",
			Help: "Total number of orders cancelled by customers",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_order_operations_rejected_total",
			Help: "Order operations rejected, grouped by operation and error kind",
		}, []string{"operation", "kind"}),
		orderTotal: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_order_total_minor",
			Help:    "Order totals in minor currency units",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		}),
		txDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_order_tx_duration_seconds",
			Help:    "Duration of order transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		txRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_order_tx_retries_total",
			Help: "Order transactions retried after serialization failures",
		}, []string{"reason"}),
		idempotentReplays: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_order_idempotent_replays_total",
			Help: "Order creation requests answered from the idempotency store",
		}),
	}
}

// RecordOrderCreated учитывает созданный заказ и его сумму.
func (m *OrderMetrics) RecordOrderCreated(totalMinor int64) {
	m.ordersCreated.Inc()
	m.orderTotal.Observe(float64(totalMinor))
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordRejected учитывает отказ операции с видом доменной ошибки.
func (m *OrderMetrics) RecordRejected(operation, kind string) {
	m.ordersRejected.WithLabelValues(operation, kind).Inc()
}

// RecordTxDuration записывает длительность транзакции заказа.
func (m *OrderMetrics) RecordTxDuration(operation string, duration time.Duration) {
	m.txDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTxRetry увеличивает счётчик повторов транзакции.
func (m *OrderMetrics) RecordTxRetry(reason string) {
	m.txRetries.WithLabelValues(reason).Inc()
}

// RecordIdempotentReplay увеличивает счётчик ответов из хранилища идемпотентности.
func (m *OrderMetrics) RecordIdempotentReplay() {
	m.idempotentReplays.Inc()
}
