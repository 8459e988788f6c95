package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/messaging/kafka"
)

const (
	defaultQueueSize   = 256
	defaultWorkerCount = 4
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

var (
	// ErrQueueFull — очередь генерации переполнена; заказ останется paid
	// без артефактов, его восстановит admin regenerate.
	ErrQueueFull = errors.New("fulfillment queue is full")

	fulfillmentDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfab_fulfillment_dispatched_total",
		Help: "Total number of orders enqueued for fulfillment.",
	})
	fulfillmentDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfab_fulfillment_dropped_total",
		Help: "Total number of fulfillment jobs dropped after exhausting retries.",
	})
	fulfillmentQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cfab_fulfillment_queue_depth",
		Help: "Current number of orders waiting in the fulfillment queue.",
	})
)

// Fulfiller выполняет генерацию документов для одного заказа.
type Fulfiller interface {
	Fulfill(ctx context.Context, orderID string) error
}

// Dispatcher — внутренняя очередь генерации документов на каналах.
// Webhook-обработчик кладёт заказ в очередь и сразу отвечает провайдеру;
// пул воркеров выполняет генерацию с ограниченными повторами.
type Dispatcher struct {
	fulfiller   Fulfiller
	queue       chan string
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Entry
}

// DispatcherOptions задает параметры диспетчера генерации.
type DispatcherOptions struct {
	Logger      *log.Entry
	QueueSize   int
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
}

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*DispatcherOptions)

// WithDispatcherLogger задает logger диспетчера.
func WithDispatcherLogger(logger *log.Entry) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithQueueSize задает ёмкость очереди.
func WithQueueSize(size int) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.QueueSize = size
	}
}

// WithWorkers задает число воркеров.
func WithWorkers(workers int) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.Workers = workers
	}
}

// WithMaxAttempts задает число попыток генерации на один заказ.
func WithMaxAttempts(attempts int) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.MaxAttempts = attempts
	}
}

// WithRetryDelay задает базовую паузу между попытками.
func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.RetryDelay = delay
	}
}

// NewDispatcher создаёт канальный диспетчер генерации документов.
func NewDispatcher(fulfiller Fulfiller, options ...DispatcherOption) *Dispatcher {
	opts := DispatcherOptions{
		QueueSize:   defaultQueueSize,
		Workers:     defaultWorkerCount,
		MaxAttempts: defaultMaxAttempts,
		RetryDelay:  defaultRetryDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "fulfillment-dispatcher")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkerCount
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	return &Dispatcher{
		fulfiller:   fulfiller,
		queue:       make(chan string, opts.QueueSize),
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		logger:      logger,
	}
}

// Enqueue ставит заказ в очередь генерации без блокировки вызывающего.
func (d *Dispatcher) Enqueue(orderID string) error {
	select {
	case d.queue <- orderID:
		fulfillmentDispatchedTotal.Inc()
		fulfillmentQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Run запускает пул воркеров и блокируется до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < d.workers; i++ {
		go func(worker int) {
			d.runWorker(ctx, worker)
			done <- struct{}{}
		}(i)
	}

	for i := 0; i < d.workers; i++ {
		<-done
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, worker int) {
	logger := d.logger.WithField("worker", worker)

	for {
		select {
		case <-ctx.Done():
			return
		case orderID := <-d.queue:
			fulfillmentQueueDepth.Set(float64(len(d.queue)))
			d.process(ctx, logger, orderID)
		}
	}
}

// process выполняет генерацию с ограниченными повторами. Исчерпание попыток
// не фатально: заказ остаётся paid, его восстановит admin regenerate.
func (d *Dispatcher) process(ctx context.Context, logger *log.Entry, orderID string) {
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		lastErr = d.fulfiller.Fulfill(ctx, orderID)
		if lastErr == nil {
			return
		}

		logger.WithError(lastErr).WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
		}).Warn("fulfillment attempt failed")

		if attempt == d.maxAttempts {
			break
		}

		delay := d.retryDelay * time.Duration(1<<uint(attempt-1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	fulfillmentDroppedTotal.Inc()
	logger.WithError(lastErr).WithField("order_id", orderID).
		Error("fulfillment dropped after exhausting retries")
}

// KafkaDispatcher публикует запросы генерации в Kafka-топик. Используется,
// когда брокеры настроены: очередь переживает рестарт сервиса.
type KafkaDispatcher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaDispatcher создаёт диспетчер поверх Kafka producer.
func NewKafkaDispatcher(producer *kafka.Producer) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		topic:    kafka.TopicFulfillmentRequests,
	}
}

// Enqueue публикует запрос генерации в топик.
func (d *KafkaDispatcher) Enqueue(orderID string) error {
	request := kafka.NewFulfillmentRequest(orderID, 0)
	if err := d.producer.PublishEvent(d.topic, orderID, request); err != nil {
		return fmt.Errorf("publish fulfillment request: %w", err)
	}
	fulfillmentDispatchedTotal.Inc()
	return nil
}

// ConsumerHandler адаптирует оркестратор к обработчику Kafka-сообщений с
// запросами генерации.
func ConsumerHandler(fulfiller Fulfiller) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		request, err := kafka.ParseFulfillmentRequest(message)
		if err != nil {
			return err
		}
		return fulfiller.Fulfill(ctx, request.OrderID)
	}
}
