package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов и чекаута.
type OrderMetrics struct {
	// Счётчики переходов статусов
	transitions       *prometheus.CounterVec
	transitionsFailed *prometheus.CounterVec

	// Счётчики отмен
	directCancels  prometheus.Counter
	cancelRequests prometheus.Counter

	// Счётчики финализаций чекаута по результату
	checkoutFinalized *prometheus.CounterVec

	// Счётчики query-бриджа
	queryRequests  *prometheus.CounterVec
	staleResponses prometheus.Counter

	// Гистограмма времени перехода
	transitionDuration prometheus.Histogram

	// Sweep протухших pending-записей
	pendingSweepDeleted prometheus.Counter

	// Gauge активных pending-записей (best effort)
	pendingInFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики, зарегистрированные в default registerer.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ocms_order_transitions_total",
			Help: "Total number of successful order status transitions",
		}, []string{"to"}),
		transitionsFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ocms_order_transitions_failed_total",
			Help: "Total number of rejected order status transitions",
		}, []string{"reason"}),
		directCancels: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ocms_order_direct_cancels_total",
			Help: "Total number of buyer direct cancellations",
		}),
		cancelRequests: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ocms_order_cancel_requests_total",
			Help: "Total number of buyer cancellation requests",
		}),
		checkoutFinalized: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ocms_checkout_finalized_total",
			Help: "Total number of gateway checkout finalizations by result",
		}, []string{"result"}),
		queryRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ocms_query_requests_total",
			Help: "Total number of order list requests by mode",
		}, []string{"mode"}),
		staleResponses: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ocms_query_stale_responses_total",
			Help: "Total number of superseded responses dropped by the query bridge",
		}),
		transitionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ocms_order_transition_duration_seconds",
			Help:    "Duration of order status transitions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		pendingSweepDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ocms_pending_sweep_deleted_total",
			Help: "Total number of expired pending gateway selections deleted",
		}),
		pendingInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ocms_pending_selections_in_flight",
			Help: "Number of pending gateway selections awaiting reconciliation",
		}),
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

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransition увеличивает счётчик успешных переходов в статус to.
func (m *OrderMetrics) RecordTransition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

// RecordTransitionFailed увеличивает счётчик отклонённых переходов.
func (m *OrderMetrics) RecordTransitionFailed(reason string) {
	m.transitionsFailed.WithLabelValues(reason).Inc()
}

// RecordDirectCancel увеличивает счётчик прямых отмен.
func (m *OrderMetrics) RecordDirectCancel() {
	m.directCancels.Inc()
}

// RecordCancelRequest увеличивает счётчик запросов на отмену.
func (m *OrderMetrics) RecordCancelRequest() {
	m.cancelRequests.Inc()
}

// RecordCheckoutFinalized увеличивает счётчик финализаций с результатом result.
func (m *OrderMetrics) RecordCheckoutFinalized(result string) {
	m.checkoutFinalized.WithLabelValues(result).Inc()
}

// RecordQueryRequest увеличивает счётчик запросов листинга в режиме mode.
func (m *OrderMetrics) RecordQueryRequest(mode string) {
	m.queryRequests.WithLabelValues(mode).Inc()
}

// RecordStaleResponseDropped увеличивает счётчик отброшенных устаревших ответов.
func (m *OrderMetrics) RecordStaleResponseDropped() {
	m.staleResponses.Inc()
}

// RecordTransitionDuration записывает время выполнения перехода.
func (m *OrderMetrics) RecordTransitionDuration(duration time.Duration) {
	m.transitionDuration.Observe(duration.Seconds())
}

// RecordPendingSweepDeleted учитывает удалённые протухшие pending-записи.
func (m *OrderMetrics) RecordPendingSweepDeleted(count int) {
	m.pendingSweepDeleted.Add(float64(count))
}

// RecordPendingCreated увеличивает gauge активных pending-записей.
func (m *OrderMetrics) RecordPendingCreated() {
	m.pendingInFlight.Inc()
}

// RecordPendingConsumed уменьшает gauge активных pending-записей.
func (m *OrderMetrics) RecordPendingConsumed() {
	m.pendingInFlight.Dec()
}
