package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты прохода уплотнения для label "result".
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// SalesMetrics содержит метрики уплотнения идентификаторов, заказов и счетов.
// Методы допускают nil-получатель: компоненты, созданные без метрик, просто ничего не пишут.
type SalesMetrics struct {
	// Уплотнение
	compactions        *prometheus.CounterVec
	compactionDuration *prometheus.HistogramVec
	renumberedIDs      *prometheus.CounterVec
	entityCount        *prometheus.GaugeVec
	constraintRestores *prometheus.CounterVec

	// Заказы и счета
	ordersCreated    prometheus.Counter
	orderUnits       prometheus.Histogram
	invoicesIssued   prometheus.Counter
	invoiceConflicts prometheus.Counter

	// Outbox
	outboxEvents          prometheus.Counter
	outboxPublishAttempts *prometheus.CounterVec
	outboxPending         prometheus.Gauge
	outboxOldestAge       prometheus.Gauge
	outboxCleanupRuns     *prometheus.CounterVec
	outboxCleanupDeleted  prometheus.Counter
}

// NewSalesMetrics создаёт метрики в реестре по умолчанию.
func NewSalesMetrics() *SalesMetrics {
	return NewSalesMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSalesMetricsWithRegisterer создаёт метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSalesMetricsWithRegisterer(registerer prometheus.Registerer) *SalesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SalesMetrics{
		compactions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_compaction_passes_total",
			Help: "Total number of id compaction passes by entity kind and result",
		}, []string{"kind", "result"}),
		compactionDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "sales_compaction_duration_seconds",
			Help:    "Duration of id compaction passes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"kind"}),
		renumberedIDs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_compaction_renumbered_ids_total",
			Help: "Total number of ids that changed during compaction",
		}, []string{"kind"}),
		entityCount: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "sales_entities",
			Help: "Number of rows after the last compaction pass",
		}, []string{"kind"}),
		constraintRestores: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_constraint_restores_total",
			Help: "Total number of compensating foreign key restorations",
		}, []string{"kind", "result"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_orders_created_total",
			Help: "Total number of orders created",
		}),
		orderUnits: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "sales_order_units",
			Help:    "Number of product units per created order",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		invoicesIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_invoices_issued_total",
			Help: "Total number of invoices issued",
		}),
		invoiceConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_invoice_number_conflicts_total",
			Help: "Total number of invoice numbers rejected by the unique index",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_events_total",
			Help: "Total number of events written to the outbox",
		}),
		outboxPublishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		outboxCleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_cleanup_runs_total",
			Help: "Total number of outbox cleanup runs grouped by result",
		}, []string{"result"}),
		outboxCleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_cleanup_deleted_total",
			Help: "Total number of processed outbox records removed by cleanup",
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

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge vec %q: %v", opts.Name, err))
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

// RecordCompaction фиксирует успешный проход уплотнения.
func (m *SalesMetrics) RecordCompaction(kind string, rows, renumbered int, duration time.Duration) {
	if m == nil {
		return
	}
	m.compactions.WithLabelValues(kind, ResultOK).Inc()
	m.compactionDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.renumberedIDs.WithLabelValues(kind).Add(float64(renumbered))
	m.entityCount.WithLabelValues(kind).Set(float64(rows))
}

// RecordCompactionFailed фиксирует сорванный проход уплотнения.
func (m *SalesMetrics) RecordCompactionFailed(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.compactions.WithLabelValues(kind, ResultFailed).Inc()
	m.compactionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordConstraintRestore фиксирует компенсирующее восстановление FK.
func (m *SalesMetrics) RecordConstraintRestore(kind string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.constraintRestores.WithLabelValues(kind, result).Inc()
}

// RecordOrderCreated увеличивает счётчик заказов и учитывает число единиц.
func (m *SalesMetrics) RecordOrderCreated(units int) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.orderUnits.Observe(float64(units))
}

// RecordInvoiceIssued увеличивает счётчик выставленных счетов.
func (m *SalesMetrics) RecordInvoiceIssued() {
	if m == nil {
		return
	}
	m.invoicesIssued.Inc()
}

// RecordInvoiceConflict увеличивает счётчик коллизий номеров счетов.
func (m *SalesMetrics) RecordInvoiceConflict() {
	if m == nil {
		return
	}
	m.invoiceConflicts.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SalesMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordOutboxPublish учитывает попытку публикации события outbox.
func (m *SalesMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishAttempts.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер и возраст backlog outbox.
func (m *SalesMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// RecordOutboxCleanup учитывает проход очистки outbox и число удалённых строк.
func (m *SalesMetrics) RecordOutboxCleanup(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.outboxCleanupRuns.WithLabelValues(ResultFailed).Inc()
	} else {
		m.outboxCleanupRuns.WithLabelValues(ResultOK).Inc()
	}
	m.outboxCleanupDeleted.Add(float64(deleted))
}
