package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics содержит метрики конвейера выполнения заказов.
type PipelineMetrics struct {
	// Счётчики переходов заказа
	ordersCreated  prometheus.Counter
	ordersPaid     prometheus.Counter
	ordersFailed   prometheus.Counter
	ordersRefunded prometheus.Counter

	// Счётчики webhook
	webhookDuplicates prometheus.Counter

	// Гистограммы времени генерации документов
	fulfillmentDuration prometheus.Histogram
	stageDuration       *prometheus.HistogramVec

	// Счётчики выдачи и зачистки
	downloadsServed prometheus.Counter
	artifactsSwept  prometheus.Counter

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для активных генераций
	activeFulfillments prometheus.Gauge
}

// NewPipelineMetrics создаёт новый экземпляр метрик конвейера.
func NewPipelineMetrics() *PipelineMetrics {
	return newPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_orders_created_total",
			Help: "Total number of orders created at checkout",
		}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_orders_paid_total",
			Help: "Total number of orders transitioned to paid",
		}),
		ordersFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_orders_failed_total",
			Help: "Total number of orders transitioned to failed",
		}),
		ordersRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_orders_refunded_total",
			Help: "Total number of orders refunded",
		}),
		webhookDuplicates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_webhook_duplicates_total",
			Help: "Total number of webhook events absorbed as duplicates",
		}),
		fulfillmentDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "cfab_fulfillment_duration_seconds",
			Help:    "Duration of document fulfillment in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "cfab_fulfillment_stage_duration_seconds",
			Help:    "Duration of individual fulfillment stages in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"stage"}),
		downloadsServed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_downloads_served_total",
			Help: "Total number of download bundles served",
		}),
		artifactsSwept: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_artifacts_swept_total",
			Help: "Total number of expired artifacts removed by the sweeper",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cfab_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		activeFulfillments: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cfab_active_fulfillments",
			Help: "Number of currently running document fulfillments",
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
func (m *PipelineMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderPaid увеличивает счётчик оплаченных заказов.
func (m *PipelineMetrics) RecordOrderPaid() {
	m.ordersPaid.Inc()
}

// RecordOrderFailed увеличивает счётчик неуспешных заказов.
func (m *PipelineMetrics) RecordOrderFailed() {
	m.ordersFailed.Inc()
}

// RecordOrderRefunded увеличивает счётчик возвратов.
func (m *PipelineMetrics) RecordOrderRefunded() {
	m.ordersRefunded.Inc()
}

// RecordWebhookDuplicate увеличивает счётчик поглощённых повторных доставок.
func (m *PipelineMetrics) RecordWebhookDuplicate() {
	m.webhookDuplicates.Inc()
}

// RecordFulfillmentStarted увеличивает количество активных генераций.
func (m *PipelineMetrics) RecordFulfillmentStarted() {
	m.activeFulfillments.Inc()
}

// RecordFulfillmentFinished уменьшает количество активных генераций.
func (m *PipelineMetrics) RecordFulfillmentFinished() {
	m.activeFulfillments.Dec()
}

// RecordFulfillmentDuration записывает время генерации документов заказа.
func (m *PipelineMetrics) RecordFulfillmentDuration(duration time.Duration) {
	m.fulfillmentDuration.Observe(duration.Seconds())
}

// RecordStageDuration записывает время выполнения этапа генерации.
func (m *PipelineMetrics) RecordStageDuration(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordDownloadServed увеличивает счётчик выданных ссылок на скачивание.
func (m *PipelineMetrics) RecordDownloadServed() {
	m.downloadsServed.Inc()
}

// RecordArtifactSwept увеличивает счётчик зачищенных артефактов.
func (m *PipelineMetrics) RecordArtifactSwept() {
	m.artifactsSwept.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *PipelineMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *PipelineMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
