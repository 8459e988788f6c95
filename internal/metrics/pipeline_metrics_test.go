package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewPipelineMetrics(t *testing.T) {
	metrics := NewPipelineMetrics()

	if metrics == nil {
		t.Fatal("NewPipelineMetrics should not return nil")
	}

	if metrics.ordersCreated == nil {
		t.Error("ordersCreated counter should not be nil")
	}
	if metrics.ordersPaid == nil {
		t.Error("ordersPaid counter should not be nil")
	}
	if metrics.ordersFailed == nil {
		t.Error("ordersFailed counter should not be nil")
	}
	if metrics.ordersRefunded == nil {
		t.Error("ordersRefunded counter should not be nil")
	}
	if metrics.webhookDuplicates == nil {
		t.Error("webhookDuplicates counter should not be nil")
	}
	if metrics.fulfillmentDuration == nil {
		t.Error("fulfillmentDuration histogram should not be nil")
	}
	if metrics.stageDuration == nil {
		t.Error("stageDuration histogram vec should not be nil")
	}
	if metrics.downloadsServed == nil {
		t.Error("downloadsServed counter should not be nil")
	}
	if metrics.artifactsSwept == nil {
		t.Error("artifactsSwept counter should not be nil")
	}
	if metrics.activeFulfillments == nil {
		t.Error("activeFulfillments gauge should not be nil")
	}
}

func TestNewPipelineMetrics_Reregister(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := newPipelineMetricsWithRegisterer(reg)
	second := newPipelineMetricsWithRegisterer(reg)

	// Повторная регистрация должна вернуть существующие коллекторы.
	if first.ordersPaid != second.ordersPaid {
		t.Error("re-registration must reuse existing counter")
	}
}

func TestRecordOrderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newPipelineMetricsWithRegisterer(reg)

	metrics.RecordOrderCreated()
	metrics.RecordOrderPaid()
	metrics.RecordOrderPaid()
	metrics.RecordOrderFailed()
	metrics.RecordOrderRefunded()
	metrics.RecordWebhookDuplicate()

	assertCounter(t, metrics.ordersCreated, 1)
	assertCounter(t, metrics.ordersPaid, 2)
	assertCounter(t, metrics.ordersFailed, 1)
	assertCounter(t, metrics.ordersRefunded, 1)
	assertCounter(t, metrics.webhookDuplicates, 1)
}

func TestRecordFulfillmentDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newPipelineMetricsWithRegisterer(reg)

	metrics.RecordFulfillmentDuration(100 * time.Millisecond)
	metrics.RecordFulfillmentDuration(500 * time.Millisecond)
	metrics.RecordFulfillmentDuration(1 * time.Second)

	metric := &dto.Metric{}
	if err := metrics.fulfillmentDuration.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", metric.Histogram.GetSampleCount())
	}

	// 0.1 + 0.5 + 1.0 = 1.6
	sum := metric.Histogram.GetSampleSum()
	if sum < 1.5 || sum > 1.7 {
		t.Errorf("expected sum around 1.6, got %f", sum)
	}
}

func TestRecordStageDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newPipelineMetricsWithRegisterer(reg)

	metrics.RecordStageDuration("render", 50*time.Millisecond)
	metrics.RecordStageDuration("upload", 100*time.Millisecond)
	metrics.RecordStageDuration("notify", 25*time.Millisecond)

	renderMetric := &dto.Metric{}
	observer := metrics.stageDuration.WithLabelValues("render")
	if err := observer.(prometheus.Histogram).Write(renderMetric); err != nil {
		t.Fatalf("failed to write render metric: %v", err)
	}

	if renderMetric.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected 1 sample for render, got %d", renderMetric.Histogram.GetSampleCount())
	}
}

func TestFulfillmentInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newPipelineMetricsWithRegisterer(reg)

	metrics.RecordFulfillmentStarted()
	metrics.RecordFulfillmentStarted()
	metrics.RecordFulfillmentFinished()

	gaugeMetric := &dto.Metric{}
	if err := metrics.activeFulfillments.Write(gaugeMetric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}

	if gaugeMetric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected 1.0 active fulfillment, got %f", gaugeMetric.Gauge.GetValue())
	}
}

func TestRecordTimelineAndOutboxEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newPipelineMetricsWithRegisterer(reg)

	metrics.RecordTimelineEvent()
	metrics.RecordTimelineEvent()
	metrics.RecordOutboxEvent()
	metrics.RecordDownloadServed()
	metrics.RecordArtifactSwept()

	assertCounter(t, metrics.timelineEvents, 2)
	assertCounter(t, metrics.outboxEvents, 1)
	assertCounter(t, metrics.downloadsServed, 1)
	assertCounter(t, metrics.artifactsSwept, 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, want float64) {
	t.Helper()

	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	if got := metric.Counter.GetValue(); got != want {
		t.Errorf("expected counter value %f, got %f", want, got)
	}
}
