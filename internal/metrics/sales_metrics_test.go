package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewSalesMetrics(t *testing.T) {
	metrics := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewSalesMetricsWithRegisterer should not return nil")
	}
	if metrics.compactions == nil || metrics.compactionDuration == nil {
		t.Error("compaction collectors should not be nil")
	}
	if metrics.renumberedIDs == nil || metrics.entityCount == nil || metrics.constraintRestores == nil {
		t.Error("keyspace collectors should not be nil")
	}
	if metrics.ordersCreated == nil || metrics.orderUnits == nil {
		t.Error("order collectors should not be nil")
	}
	if metrics.invoicesIssued == nil || metrics.invoiceConflicts == nil {
		t.Error("invoice collectors should not be nil")
	}
	if metrics.outboxEvents == nil {
		t.Error("outboxEvents counter should not be nil")
	}
}

func TestNewSalesMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewSalesMetricsWithRegisterer(reg)
	second := NewSalesMetricsWithRegisterer(reg)

	first.RecordInvoiceIssued()
	second.RecordInvoiceIssued()

	if got := counterValue(t, first.invoicesIssued); got != 2.0 {
		t.Errorf("expected shared counter value 2.0, got %f", got)
	}
}

func TestRecordCompaction(t *testing.T) {
	metrics := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordCompaction("customer", 3, 1, 20*time.Millisecond)
	metrics.RecordCompaction("customer", 3, 0, 10*time.Millisecond)
	metrics.RecordCompactionFailed("product", 5*time.Millisecond)

	if got := counterValue(t, metrics.compactions.WithLabelValues("customer", ResultOK)); got != 2.0 {
		t.Errorf("expected 2 ok passes, got %f", got)
	}
	if got := counterValue(t, metrics.compactions.WithLabelValues("product", ResultFailed)); got != 1.0 {
		t.Errorf("expected 1 failed pass, got %f", got)
	}
	if got := counterValue(t, metrics.renumberedIDs.WithLabelValues("customer")); got != 1.0 {
		t.Errorf("expected 1 renumbered id, got %f", got)
	}

	gauge := &dto.Metric{}
	if err := metrics.entityCount.WithLabelValues("customer").Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 3.0 {
		t.Errorf("expected 3 entities, got %f", gauge.Gauge.GetValue())
	}

	histogram := &dto.Metric{}
	observer := metrics.compactionDuration.WithLabelValues("customer")
	if err := observer.(prometheus.Histogram).Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", histogram.Histogram.GetSampleCount())
	}
}

func TestRecordConstraintRestore(t *testing.T) {
	metrics := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordConstraintRestore("product", nil)
	metrics.RecordConstraintRestore("product", errors.New("connection reset"))

	if got := counterValue(t, metrics.constraintRestores.WithLabelValues("product", ResultOK)); got != 1.0 {
		t.Errorf("expected 1 ok restore, got %f", got)
	}
	if got := counterValue(t, metrics.constraintRestores.WithLabelValues("product", ResultFailed)); got != 1.0 {
		t.Errorf("expected 1 failed restore, got %f", got)
	}
}

func TestRecordOrderCreated(t *testing.T) {
	metrics := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOrderCreated(5)
	metrics.RecordOrderCreated(100)

	if got := counterValue(t, metrics.ordersCreated); got != 2.0 {
		t.Errorf("expected 2 orders, got %f", got)
	}

	histogram := &dto.Metric{}
	if err := metrics.orderUnits.Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleSum() != 105 {
		t.Errorf("expected units sum 105, got %f", histogram.Histogram.GetSampleSum())
	}
}

func TestRecordInvoiceAndOutbox(t *testing.T) {
	metrics := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordInvoiceIssued()
	metrics.RecordInvoiceConflict()
	metrics.RecordOutboxEvent()
	metrics.RecordOutboxEvent()

	if got := counterValue(t, metrics.invoicesIssued); got != 1.0 {
		t.Errorf("expected 1 invoice, got %f", got)
	}
	if got := counterValue(t, metrics.invoiceConflicts); got != 1.0 {
		t.Errorf("expected 1 conflict, got %f", got)
	}
	if got := counterValue(t, metrics.outboxEvents); got != 2.0 {
		t.Errorf("expected 2 outbox events, got %f", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var metrics *SalesMetrics

	metrics.RecordCompaction("customer", 1, 0, time.Millisecond)
	metrics.RecordCompactionFailed("customer", time.Millisecond)
	metrics.RecordConstraintRestore("customer", nil)
	metrics.RecordOrderCreated(1)
	metrics.RecordInvoiceIssued()
	metrics.RecordInvoiceConflict()
	metrics.RecordOutboxEvent()
	metrics.RecordOutboxCleanup(3, nil)
}

func TestRecordOutboxCleanup(t *testing.T) {
	metrics := NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOutboxCleanup(4, nil)
	metrics.RecordOutboxCleanup(1, errors.New("timeout"))

	if got := counterValue(t, metrics.outboxCleanupRuns.WithLabelValues(ResultOK)); got != 1.0 {
		t.Errorf("expected 1 ok cleanup run, got %f", got)
	}
	if got := counterValue(t, metrics.outboxCleanupRuns.WithLabelValues(ResultFailed)); got != 1.0 {
		t.Errorf("expected 1 failed cleanup run, got %f", got)
	}
	if got := counterValue(t, metrics.outboxCleanupDeleted); got != 5.0 {
		t.Errorf("expected 5 deleted records, got %f", got)
	}
}
