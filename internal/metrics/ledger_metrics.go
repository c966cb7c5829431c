package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics содержит метрики торгового ядра.
// Все методы безопасны для nil-получателя: метрики опциональны.
type LedgerMetrics struct {
	// Счётчики заказов
	ordersCreated   prometheus.Counter
	ordersConfirmed prometheus.Counter
	ordersCanceled  prometheus.Counter
	confirmFailures *prometheus.CounterVec

	// Возвраты, закупки, отмены продаж
	returnsCreated    prometheus.Counter
	returnsRejected   *prometheus.CounterVec
	salesCanceled     prometheus.Counter
	purchasesRecorded *prometheus.CounterVec

	// Склад и балансы
	stockClamps    prometheus.Counter
	balanceEntries *prometheus.CounterVec

	// Уведомления, которые не удалось отправить
	droppedEvents *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// NewLedgerMetrics регистрирует метрики в глобальном registry.
func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLedgerMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LedgerMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wholesale_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wholesale_orders_confirmed_total",
			Help: "Total number of orders confirmed into sales",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wholesale_orders_canceled_total",
			Help: "Total number of orders canceled",
		}),
		confirmFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "wholesale_order_confirm_failures_total",
			Help: "Order confirmations rejected, grouped by error kind",
		}, []string{"kind"}),
		returnsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wholesale_returns_created_total",
			Help: "Total number of sale returns recorded",
		}),
		returnsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "wholesale_returns_rejected_total",
			Help: "Sale returns rejected, grouped by error kind",
		}, []string{"kind"}),
		salesCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wholesale_sales_canceled_total",
			Help: "Total number of sales canceled",
		}),
		purchasesRecorded: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "wholesale_purchases_total",
			Help: "Purchases created or deleted",
		}, []string{"action"}),
		stockClamps: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wholesale_stock_clamps_total",
			Help: "Restocks that would have driven stock negative and were clamped at zero",
		}),
		balanceEntries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "wholesale_balance_entries_total",
			Help: "Balance ledger entries appended, grouped by currency and direction",
		}, []string{"currency", "direction"}),
		droppedEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "wholesale_events_dropped_total",
			Help: "Best-effort notifications that failed to publish",
		}, []string{"event"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "wholesale_operation_duration_seconds",
			Help:    "Duration of core operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *LedgerMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderConfirmed увеличивает счётчик подтверждённых заказов.
func (m *LedgerMetrics) RecordOrderConfirmed() {
	if m == nil {
		return
	}
	m.ordersConfirmed.Inc()
}

// RecordOrderCanceled увеличивает счётчик отменённых заказов.
func (m *LedgerMetrics) RecordOrderCanceled() {
	if m == nil {
		return
	}
	m.ordersCanceled.Inc()
}

// RecordConfirmFailure считает отказ подтверждения по виду ошибки.
func (m *LedgerMetrics) RecordConfirmFailure(kind string) {
	if m == nil {
		return
	}
	m.confirmFailures.WithLabelValues(kind).Inc()
}

// RecordReturnCreated увеличивает счётчик возвратов.
func (m *LedgerMetrics) RecordReturnCreated() {
	if m == nil {
		return
	}
	m.returnsCreated.Inc()
}

// RecordReturnRejected считает отклонённый возврат.
func (m *LedgerMetrics) RecordReturnRejected(kind string) {
	if m == nil {
		return
	}
	m.returnsRejected.WithLabelValues(kind).Inc()
}

// RecordSaleCanceled увеличивает счётчик отменённых продаж.
func (m *LedgerMetrics) RecordSaleCanceled() {
	if m == nil {
		return
	}
	m.salesCanceled.Inc()
}

// RecordPurchase считает закупку: action = created | deleted.
func (m *LedgerMetrics) RecordPurchase(action string) {
	if m == nil {
		return
	}
	m.purchasesRecorded.WithLabelValues(action).Inc()
}

// RecordStockClamp считает обрезку остатка на нуле.
func (m *LedgerMetrics) RecordStockClamp() {
	if m == nil {
		return
	}
	m.stockClamps.Inc()
}

// RecordBalanceEntry считает запись в истории баланса.
func (m *LedgerMetrics) RecordBalanceEntry(currency, direction string) {
	if m == nil {
		return
	}
	m.balanceEntries.WithLabelValues(currency, direction).Inc()
}

// RecordDroppedEvent считает потерянное уведомление.
func (m *LedgerMetrics) RecordDroppedEvent(event string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(event).Inc()
}

// ObserveOperation записывает длительность операции и её исход.
func (m *LedgerMetrics) ObserveOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}
